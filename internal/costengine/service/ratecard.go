package service

import (
	"time"

	"github.com/shopspring/decimal"
	costenginedomain "github.com/smallbiznis/workledger/internal/costengine/domain"
	"github.com/smallbiznis/workledger/internal/config"
)

type holderRateCard struct {
	holder *config.RateCardHolder
}

// NewRateCard reads rates from the live snapshot so reloads apply to the next event.
func NewRateCard(holder *config.RateCardHolder) costenginedomain.RateCard {
	if holder == nil {
		return emptyRateCard{}
	}
	return holderRateCard{holder: holder}
}

func (r holderRateCard) HourlyRate(role string, on time.Time) (decimal.Decimal, bool) {
	return r.holder.Get().HourlyRate(role, on)
}

type emptyRateCard struct{}

func (emptyRateCard) HourlyRate(string, time.Time) (decimal.Decimal, bool) {
	return decimal.Zero, false
}
