package domain

// Car body types offered by the catalog.
const (
	CarTypeSedan = "Sedan"
	CarTypeSUV   = "SUV"
	CarTypeWagon = "Wagon"
)

// CarMake is a manufacturer in the local catalog.
type CarMake struct {
	ID          int64
	Name        string
	Description string
	Models      []CarModel
}

// CarModel is a model belonging to exactly one CarMake.
type CarModel struct {
	ID       int64
	MakeID   int64
	MakeName string
	Name     string
	Type     string
	Year     int
	DealerID int
}
