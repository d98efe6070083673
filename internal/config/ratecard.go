package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const rateCardDateLayout = "2006-01-02"

// RateCardConfig is the on-disk shape of ratecard.yml.
type RateCardConfig struct {
	Currency string     `mapstructure:"currency"`
	Roles    []RoleRate `mapstructure:"roles"`
}

type RoleRate struct {
	Role  string      `mapstructure:"role"`
	Rates []DatedRate `mapstructure:"rates"`
}

type DatedRate struct {
	EffectiveFrom string `mapstructure:"effective_from"`
	HourlyRate    string `mapstructure:"hourly_rate"`
}

type datedRate struct {
	from time.Time
	rate decimal.Decimal
}

// RateCard is a validated, queryable snapshot of RateCardConfig.
type RateCard struct {
	Currency string
	roles    map[string][]datedRate
}

// HourlyRate returns the rate in force for role on the given day.
func (r RateCard) HourlyRate(role string, on time.Time) (decimal.Decimal, bool) {
	rates, ok := r.roles[normalizeRole(role)]
	if !ok || len(rates) == 0 {
		return decimal.Zero, false
	}
	day := on.UTC().Truncate(24 * time.Hour)
	// rates are sorted by effective date, newest wins
	for i := len(rates) - 1; i >= 0; i-- {
		if !rates[i].from.After(day) {
			return rates[i].rate, true
		}
	}
	return decimal.Zero, false
}

// Roles lists the configured role keys.
func (r RateCard) Roles() []string {
	out := make([]string, 0, len(r.roles))
	for role := range r.roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

type RateCardHolder struct {
	current atomic.Value // holds RateCard
}

// NewRateCardHolder loads ratecard.yml and keeps it fresh on file changes.
func NewRateCardHolder(cfg Config, log *zap.Logger) (*RateCardHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ratecard")

	v := viper.New()
	if path := strings.TrimSpace(cfg.Ledger.RateCardPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ratecard")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/workledger/config")
		v.AddConfigPath("/etc/workledger")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("WORKLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read rate card: %w", err)
		}
		log.Warn("rate card not found, labor entries must carry an hourly rate")
		v.SetDefault("ratecard.currency", cfg.Ledger.DefaultCurrency)
		watch = false
	}

	card, err := decodeRateCard(v)
	if err != nil {
		return nil, err
	}

	holder := &RateCardHolder{}
	holder.current.Store(card)

	if watch {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeRateCard(v)
			if err != nil {
				log.Warn("rate card reload ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("rate card reloaded", zap.String("file", e.Name), zap.Int("roles", len(updated.roles)))
		})
		v.WatchConfig()
	}

	return holder, nil
}

// NewStaticRateCardHolder wraps an already validated configuration.
func NewStaticRateCardHolder(cfg RateCardConfig) (*RateCardHolder, error) {
	card, err := compileRateCard(cfg)
	if err != nil {
		return nil, err
	}
	holder := &RateCardHolder{}
	holder.current.Store(card)
	return holder, nil
}

func (h *RateCardHolder) Get() RateCard {
	return h.current.Load().(RateCard)
}

func decodeRateCard(v *viper.Viper) (RateCard, error) {
	var raw RateCardConfig
	if err := v.UnmarshalKey("ratecard", &raw); err != nil {
		return RateCard{}, fmt.Errorf("decode rate card: %w", err)
	}
	return compileRateCard(raw)
}

func compileRateCard(raw RateCardConfig) (RateCard, error) {
	card := RateCard{
		Currency: strings.ToUpper(strings.TrimSpace(raw.Currency)),
		roles:    make(map[string][]datedRate, len(raw.Roles)),
	}
	for _, role := range raw.Roles {
		key := normalizeRole(role.Role)
		if key == "" {
			return RateCard{}, errors.New("ratecard.roles: role cannot be empty")
		}
		if len(role.Rates) == 0 {
			return RateCard{}, fmt.Errorf("ratecard.roles[%s]: rates cannot be empty", key)
		}
		for _, r := range role.Rates {
			from, err := time.Parse(rateCardDateLayout, strings.TrimSpace(r.EffectiveFrom))
			if err != nil {
				return RateCard{}, fmt.Errorf("ratecard.roles[%s]: effective_from %q: %w", key, r.EffectiveFrom, err)
			}
			rate, err := decimal.NewFromString(strings.TrimSpace(r.HourlyRate))
			if err != nil {
				return RateCard{}, fmt.Errorf("ratecard.roles[%s]: hourly_rate %q: %w", key, r.HourlyRate, err)
			}
			if !rate.IsPositive() {
				return RateCard{}, fmt.Errorf("ratecard.roles[%s]: hourly_rate must be positive", key)
			}
			card.roles[key] = append(card.roles[key], datedRate{from: from.UTC(), rate: rate})
		}
		sort.Slice(card.roles[key], func(i, j int) bool {
			return card.roles[key][i].from.Before(card.roles[key][j].from)
		})
	}
	return card, nil
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
