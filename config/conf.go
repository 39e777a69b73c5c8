package config

import (
	"flag"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var confPath string

func init() {
	flag.StringVar(&confPath, "conf", "configs/", "default config path")
}

var (
	Server   server
	Postgres postgres
	Redis    redis
	Farm     farm
)

type server struct {
	Env     string `yaml:"env"`
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
	SignKey string `yaml:"sign_key"` // shared secret for internal endpoints
}

type postgres struct {
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type redis struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"` // pub/sub channel for transaction events
}

// BoostPackage mirrors model.BoostPackage; kept as plain floats here because
// viper decodes yaml numbers, converted on read.
type BoostPackage struct {
	ID         int64   `yaml:"id"`
	Name       string  `yaml:"name"`
	CostTON    float64 `yaml:"cost_ton"`
	Multiplier float64 `yaml:"multiplier"`
	Days       int     `yaml:"days"`
}

// farm holds the business-policy tables. The referral schedule and per-asset
// daily rates are supplied by the product owner, not derivable here.
type farm struct {
	Schedule          string         `yaml:"schedule"`            // 6-field cron spec, e.g. "0 */5 * * * *"
	MinElapsedSeconds int64          `yaml:"min_elapsed_seconds"` // skip deposits re-ticked earlier than this
	UNIDailyRate      float64        `yaml:"uni_daily_rate"`
	TONDailyRate      float64        `yaml:"ton_daily_rate"`
	RefLevelRates     []float64      `yaml:"ref_level_rates"` // exactly 20 entries, (0,1], non-increasing
	BoostPackages     []BoostPackage `yaml:"boost_packages"`
}

// RefMaxLevels is the hard cap on the referral ancestor walk.
const RefMaxLevels = 20

func Init() {
	unmarshalServer()
	unmarshalPostgres()
	unmarshalRedis()
	unmarshalFarm()

	if err := ValidateRefRates(Farm.RefLevelRates); err != nil {
		panic(fmt.Errorf("Fatal error farm config: %s \n", err))
	}
	if Farm.UNIDailyRate <= 0 || Farm.TONDailyRate <= 0 {
		panic(fmt.Errorf("Fatal error farm config: daily rates must be positive \n"))
	}
}

// ValidateRefRates checks the 20-level commission schedule: exactly
// RefMaxLevels entries, each in (0,1], monotonically non-increasing.
func ValidateRefRates(rates []float64) error {
	if len(rates) != RefMaxLevels {
		return fmt.Errorf("ref_level_rates needs exactly %d entries, got %d", RefMaxLevels, len(rates))
	}
	prev := 1.0
	for i, r := range rates {
		if r <= 0 || r > 1 {
			return fmt.Errorf("ref_level_rates[%d] = %v out of (0,1]", i, r)
		}
		if r > prev {
			return fmt.Errorf("ref_level_rates[%d] = %v increases over level %d", i, r, i)
		}
		prev = r
	}
	return nil
}

// RefRates returns the commission schedule as decimals, index 0 is level 1.
func RefRates() []decimal.Decimal {
	rates := make([]decimal.Decimal, 0, len(Farm.RefLevelRates))
	for _, r := range Farm.RefLevelRates {
		rates = append(rates, decimal.NewFromFloat(r))
	}
	return rates
}

// DailyRate returns the configured base daily rate for a currency code.
func DailyRate(currency string) decimal.Decimal {
	if currency == "TON" {
		return decimal.NewFromFloat(Farm.TONDailyRate)
	}
	return decimal.NewFromFloat(Farm.UNIDailyRate)
}

func unmarshalServer() {
	unmarshal("server", &Server)
}

func unmarshalPostgres() {
	unmarshal("postgres", &Postgres)
}

func unmarshalRedis() {
	unmarshal("redis", &Redis)
}

func unmarshalFarm() {
	unmarshal("farm", &Farm)
}

func unmarshal(name string, target interface{}) {
	v := viper.New()
	v.SetConfigName(name)
	v.AddConfigPath(confPath)
	err := v.ReadInConfig() // Find and read the config file
	if err != nil {         // Handle errors reading the config file
		panic(fmt.Errorf("Fatal error config file: %s \n", err))
	}

	err = v.Unmarshal(target, func(config *mapstructure.DecoderConfig) {
		config.TagName = "yaml"
	})
	if err != nil {
		panic(fmt.Errorf("Fatal error unmarshal config file: %s \n", err))
	}
}
