package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleRateCard = `ratecard:
  currency: usd
  roles:
    - role: Technician
      rates:
        - effective_from: "2024-01-01"
          hourly_rate: "80.00"
        - effective_from: "2025-01-01"
          hourly_rate: "85.00"
    - role: electrician
      rates:
        - effective_from: "2024-06-01"
          hourly_rate: "120"
`

func writeRateCard(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ratecard.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRateCardHolder_LoadsAndResolvesByDate(t *testing.T) {
	path := writeRateCard(t, sampleRateCard)

	holder, err := NewRateCardHolder(Config{Ledger: LedgerConfig{RateCardPath: path}}, zap.NewNop())
	require.NoError(t, err)

	card := holder.Get()
	assert.Equal(t, "USD", card.Currency)
	assert.Equal(t, []string{"electrician", "technician"}, card.Roles())

	rate, ok := card.HourlyRate("technician", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("80")))

	rate, ok = card.HourlyRate(" TECHNICIAN ", time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("85")))

	_, ok = card.HourlyRate("electrician", time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok, "no rate before the first effective date")

	_, ok = card.HourlyRate("plumber", time.Now())
	assert.False(t, ok)
}

func TestRateCardHolder_MissingExplicitFileFails(t *testing.T) {
	_, err := NewRateCardHolder(Config{Ledger: LedgerConfig{RateCardPath: filepath.Join(t.TempDir(), "missing.yml")}}, zap.NewNop())
	assert.Error(t, err)
}

func TestRateCardHolder_RejectsInvalidRates(t *testing.T) {
	path := writeRateCard(t, `ratecard:
  roles:
    - role: technician
      rates:
        - effective_from: "2024-01-01"
          hourly_rate: "-5"
`)
	_, err := NewRateCardHolder(Config{Ledger: LedgerConfig{RateCardPath: path}}, zap.NewNop())
	assert.Error(t, err)
}

func TestRateCardHolder_HotReload(t *testing.T) {
	path := writeRateCard(t, sampleRateCard)

	holder, err := NewRateCardHolder(Config{Ledger: LedgerConfig{RateCardPath: path}}, zap.NewNop())
	require.NoError(t, err)

	updated := `ratecard:
  currency: USD
  roles:
    - role: technician
      rates:
        - effective_from: "2024-01-01"
          hourly_rate: "95.50"
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		rate, ok := holder.Get().HourlyRate("technician", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
		return ok && rate.Equal(decimal.RequireFromString("95.50"))
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStaticRateCardHolder(t *testing.T) {
	holder, err := NewStaticRateCardHolder(RateCardConfig{
		Roles: []RoleRate{{Role: "Welder", Rates: []DatedRate{{EffectiveFrom: "2020-01-01", HourlyRate: "70"}}}},
	})
	require.NoError(t, err)

	rate, ok := holder.Get().HourlyRate("welder", time.Now())
	require.True(t, ok)
	assert.Equal(t, "70", rate.String())
}
