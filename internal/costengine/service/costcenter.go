package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/workledger/internal/config"
	costenginedomain "github.com/smallbiznis/workledger/internal/costengine/domain"
	ledgerdomain "github.com/smallbiznis/workledger/internal/ledger/domain"
	"github.com/smallbiznis/workledger/pkg/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CostCenterResolver struct {
	repo        repository.Repository[ledgerdomain.CostCenter]
	log         *zap.Logger
	defaultCode string
}

func NewCostCenterResolver(db *gorm.DB, cfg config.Config, log *zap.Logger) costenginedomain.CostCenterResolver {
	return &CostCenterResolver{
		repo:        repository.ProvideStore[ledgerdomain.CostCenter](db),
		log:         log.Named("costengine.costcenter"),
		defaultCode: strings.TrimSpace(cfg.Ledger.DefaultCostCenter),
	}
}

// Resolve tries ref as an id, then as a code, then the tenant default row,
// then the configured default code.
func (r *CostCenterResolver) Resolve(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, ref string) (*snowflake.ID, error) {
	repo := r.repo.WithTrx(tx)
	ref = strings.TrimSpace(ref)

	if ref != "" {
		if id, err := snowflake.ParseString(ref); err == nil && id > 0 {
			cc, err := repo.FindOne(ctx, &ledgerdomain.CostCenter{ID: id, TenantID: tenantID})
			if err != nil {
				return nil, err
			}
			if cc != nil {
				return &cc.ID, nil
			}
		}
		cc, err := repo.FindOne(ctx, &ledgerdomain.CostCenter{TenantID: tenantID, Code: ref})
		if err != nil {
			return nil, err
		}
		if cc != nil {
			return &cc.ID, nil
		}
		r.log.Warn("cost center not found, using tenant default",
			zap.String("tenant_id", tenantID.String()),
			zap.String("cost_center_ref", ref),
		)
	}

	cc, err := repo.FindOne(ctx, &ledgerdomain.CostCenter{TenantID: tenantID, IsDefault: true})
	if err != nil {
		return nil, err
	}
	if cc != nil {
		return &cc.ID, nil
	}

	if r.defaultCode != "" {
		cc, err := repo.FindOne(ctx, &ledgerdomain.CostCenter{TenantID: tenantID, Code: r.defaultCode})
		if err != nil {
			return nil, err
		}
		if cc != nil {
			return &cc.ID, nil
		}
	}
	return nil, nil
}
