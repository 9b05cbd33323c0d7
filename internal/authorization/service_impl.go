package authorization

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/seeklabs/bloxscout/internal/audit/domain"
)

//go:embed model.conf
var modelText string

const (
	ObjectLedger   = "ledger"
	ObjectAccount  = "account"
	ObjectCache    = "search_cache"
	ObjectAuditLog = "audit_log"
)

const (
	ActionLedgerView   = "ledger.view"
	ActionLedgerCredit = "ledger.credit"
	ActionLedgerAdjust = "ledger.adjust"
	ActionLedgerRefund = "ledger.refund"
	ActionLedgerVerify = "ledger.verify"

	ActionAccountView    = "account.view"
	ActionAccountDisable = "account.disable"

	ActionCacheView  = "search_cache.view"
	ActionCacheEvict = "search_cache.evict"

	ActionAuditLogView = "audit_log.view"
)

// Role subjects operators are granted into via grouping policies.
const (
	RoleViewer   = "role:viewer"
	RoleOperator = "role:operator"
	RoleAdmin    = "role:admin"
	RoleSystem   = "role:system"
)

// ActorSystem is the subject automated processes authorize as.
const ActorSystem = "system"

// OperatorPrefix marks a human operator subject, e.g. "operator:jdoe".
const OperatorPrefix = "operator:"

var (
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidActor   = errors.New("invalid_actor")
	ErrInvalidAccount = errors.New("invalid_account")
	ErrInvalidObject  = errors.New("invalid_object")
	ErrInvalidAction  = errors.New("invalid_action")
)

// Service answers whether an actor may perform an action on the admin
// surface. Roles live in the enforcer's persisted policy store; operator
// role grants are data, not code.
type Service interface {
	Authorize(ctx context.Context, actor string, object string, action string) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer builds the casbin enforcer backed by the shared database.
// Policies persist in casbin's own table; seeding is additive, so restarts
// never duplicate or clobber grants operators created at runtime.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	return enforcer, bootstrapPolicies(enforcer)
}

// bootstrapPolicies loads whatever the store already holds, then layers the
// built-in role matrix on top and rebuilds the role inheritance links.
func bootstrapPolicies(enforcer *casbin.SyncedEnforcer) error {
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return err
	}
	if err := seedPolicies(enforcer); err != nil {
		return err
	}
	enforcer.BuildRoleLinks()
	return nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if err := validateActor(actor); err != nil {
		return err
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(actor, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDecision(ctx, "authorization.denied", actor, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditDecision(ctx, "authorization.granted", actor, object, action)
	}
	return nil
}

func validateActor(actor string) error {
	if actor == ActorSystem {
		return nil
	}
	if strings.HasPrefix(actor, OperatorPrefix) &&
		strings.TrimSpace(strings.TrimPrefix(actor, OperatorPrefix)) != "" {
		return nil
	}
	return ErrInvalidActor
}

func (s *ServiceImpl) auditDecision(ctx context.Context, outcome string, actor string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	if err := s.auditSvc.AuditLog(ctx, nil, outcome, "authorization", &targetID, map[string]any{
		"subject": actor,
		"object":  object,
		"action":  action,
	}); err != nil {
		s.log.Warn("authorization audit failed",
			zap.String("outcome", outcome),
			zap.Error(err))
	}
}

// shouldAuditGrant marks the actions whose successful use is worth an
// audit row, not just their denial.
func shouldAuditGrant(action string) bool {
	switch action {
	case ActionLedgerAdjust, ActionLedgerRefund, ActionLedgerCredit, ActionAccountDisable, ActionCacheEvict:
		return true
	default:
		return false
	}
}

// roleGrants is the built-in permission matrix, keyed by role. Operators
// are mapped into these roles through grouping policies stored next to
// them; the matrix itself is the same on every node.
var roleGrants = map[string][][2]string{
	RoleViewer: {
		{ObjectLedger, ActionLedgerView},
		{ObjectAccount, ActionAccountView},
		{ObjectCache, ActionCacheView},
		{ObjectAuditLog, ActionAuditLogView},
	},
	RoleOperator: {
		{ObjectLedger, ActionLedgerView},
		{ObjectLedger, ActionLedgerVerify},
		{ObjectAccount, ActionAccountView},
		{ObjectCache, ActionCacheView},
		{ObjectCache, ActionCacheEvict},
		{ObjectAuditLog, ActionAuditLogView},
	},
	RoleAdmin: {
		{ObjectLedger, ActionLedgerView},
		{ObjectLedger, ActionLedgerVerify},
		{ObjectLedger, ActionLedgerCredit},
		{ObjectLedger, ActionLedgerAdjust},
		{ObjectLedger, ActionLedgerRefund},
		{ObjectAccount, ActionAccountView},
		{ObjectAccount, ActionAccountDisable},
		{ObjectCache, ActionCacheView},
		{ObjectCache, ActionCacheEvict},
		{ObjectAuditLog, ActionAuditLogView},
	},
	RoleSystem: {
		{ObjectLedger, ActionLedgerView},
		{ObjectLedger, ActionLedgerVerify},
		{ObjectLedger, ActionLedgerCredit},
		{ObjectCache, ActionCacheEvict},
	},
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	for role, grants := range roleGrants {
		for _, grant := range grants {
			if _, err := enforcer.AddPolicy(role, grant[0], grant[1]); err != nil {
				return err
			}
		}
	}
	// The scheduler and webhook paths authorize as the system actor.
	if _, err := enforcer.AddGroupingPolicy(ActorSystem, RoleSystem); err != nil {
		return err
	}
	return nil
}
