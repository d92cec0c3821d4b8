package dealerdb

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dealer is a dealership record.
type Dealer struct {
	ID        int     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	City      string  `json:"city"`
	State     string  `gorm:"index" json:"state"`
	St        string  `json:"st"`
	Address   string  `json:"address"`
	Zip       string  `json:"zip"`
	Lat       float64 `json:"lat"`
	Long      float64 `json:"long"`
	ShortName string  `json:"short_name"`
	FullName  string  `json:"full_name"`
}

// Review is a customer review of a dealership.
type Review struct {
	ID           int     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name         string  `json:"name"`
	Dealership   FlexInt `gorm:"index" json:"dealership"`
	Review       string  `json:"review"`
	Purchase     bool    `json:"purchase"`
	PurchaseDate string  `json:"purchase_date"`
	CarMake      string  `json:"car_make"`
	CarModel     string  `json:"car_model"`
	CarYear      FlexInt `json:"car_year"`
}

// FlexInt decodes from a JSON number or a numeric string. Empty strings and
// null decode to zero.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*n = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*n = 0
			return nil
		}
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("not an integer: %s", data)
	}
	*n = FlexInt(v)
	return nil
}

type dealershipsFile struct {
	Dealerships []Dealer `json:"dealerships"`
}

type reviewsFile struct {
	Reviews []Review `json:"reviews"`
}
