package config

// DealerDBConfig holds runtime configuration for the dealer data service.
type DealerDBConfig struct {
	Environment     string
	Addr            string
	LogLevel        string
	Driver          string
	DSN             string
	DealershipsFile string
	ReviewsFile     string
}

// LoadDealerDBConfig constructs a DealerDBConfig from environment variables.
func LoadDealerDBConfig() DealerDBConfig {
	return DealerDBConfig{
		Environment:     GetString("APP_ENV", "development"),
		Addr:            GetString("DEALERDB_ADDR", ":3030"),
		LogLevel:        GetString("LOG_LEVEL", "info"),
		Driver:          GetString("DEALERDB_DRIVER", "sqlite"),
		DSN:             GetString("DEALERDB_DSN", "dealerships.db"),
		DealershipsFile: GetString("DEALERDB_DEALERSHIPS_FILE", "data/dealerships.json"),
		ReviewsFile:     GetString("DEALERDB_REVIEWS_FILE", "data/reviews.json"),
	}
}
