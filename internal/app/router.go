package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// AccountReader is the query side of the ledger service exposed over HTTP.
type AccountReader interface {
	Get(ctx context.Context, tenant ledger.TenantID, id ledger.AccountID) (*ledger.Account, error)
	Verify(ctx context.Context, tenant ledger.TenantID, id ledger.AccountID) (ledger.VerifyReport, error)
}

// RouterParams groups dependencies for building the ops router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	Accounts   AccountReader
	JobHandler *jobs.Handler
	Metrics    *observability.Metrics
}

type accountResponse struct {
	ID           string              `json:"id"`
	TenantID     string              `json:"tenant_id"`
	Code         string              `json:"code"`
	Name         string              `json:"name"`
	Type         string              `json:"type"`
	ParentID     string              `json:"parent_id,omitempty"`
	Currency     string              `json:"currency"`
	Balance      string              `json:"balance"`
	Active       bool                `json:"active"`
	Children     []ledger.AccountID  `json:"children"`
	Overdraft    bool                `json:"overdraft"`
	Version      eventsource.Version `json:"version"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	Deactivation string              `json:"deactivation_reason,omitempty"`
}

func newAccountResponse(acct *ledger.Account) accountResponse {
	st := acct.State()
	children := st.Children
	if children == nil {
		children = []ledger.AccountID{}
	}
	return accountResponse{
		ID:           string(st.ID),
		TenantID:     string(st.TenantID),
		Code:         st.Code.String(),
		Name:         st.Name,
		Type:         string(st.Type),
		ParentID:     string(st.ParentID),
		Currency:     string(st.Currency),
		Balance:      st.Balance.Amount().StringFixed(st.Currency.Scale()),
		Active:       st.Active,
		Children:     children,
		Overdraft:    st.Capabilities.Overdraft,
		Version:      st.Version,
		CreatedAt:    st.CreatedAt,
		UpdatedAt:    st.UpdatedAt,
		Deactivation: st.DeactivationReason,
	}
}

// NewRouter constructs the read-only ops router.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.Accounts != nil {
		r.Route("/accounts/{tenant}/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				tenant, id := accountParams(r)
				acct, err := params.Accounts.Get(r.Context(), tenant, id)
				if err != nil {
					logRequestError(logger, r, err)
					httpx.RespondError(w, err)
					return
				}
				httpx.JSON(w, http.StatusOK, newAccountResponse(acct))
			})
			r.Get("/verify", func(w http.ResponseWriter, r *http.Request) {
				tenant, id := accountParams(r)
				report, err := params.Accounts.Verify(r.Context(), tenant, id)
				if err != nil {
					logRequestError(logger, r, err)
					httpx.RespondError(w, err)
					return
				}
				status := http.StatusOK
				if !report.OK() {
					status = http.StatusConflict
				}
				httpx.JSON(w, status, report)
			})
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}

func accountParams(r *http.Request) (ledger.TenantID, ledger.AccountID) {
	return ledger.TenantID(chi.URLParam(r, "tenant")), ledger.AccountID(chi.URLParam(r, "id"))
}

func logRequestError(logger *slog.Logger, r *http.Request, err error) {
	level := slog.LevelWarn
	if ledger.KindOf(err) == "" {
		level = slog.LevelError
	}
	logger.Log(r.Context(), level, "ledger query failed",
		slog.String("path", r.URL.Path),
		slog.String("kind", string(ledger.KindOf(err))),
		slog.Any("error", err))
}
