package handlers

import (
	"context"
	"errors"

	"github.com/geocoder89/impacthub/internal/cache"
	"github.com/geocoder89/impacthub/internal/domain/transaction"
	"github.com/geocoder89/impacthub/internal/listquery"
	"github.com/geocoder89/impacthub/internal/utils"
	"github.com/gin-gonic/gin"
)

type TransactionStore interface {
	GetByID(ctx context.Context, id string) (transaction.Transaction, error)
	List(ctx context.Context, f transaction.ListFilter) ([]transaction.Transaction, int, error)
	Stats(ctx context.Context, f transaction.ListFilter) (transaction.Stats, error)
}

var (
	adminTransactionFilters = []string{"type", "status", "from", "to", "userId"}
	ownTransactionFilters   = []string{"type", "status", "from", "to"}
)

const transactionStatsKey = "transactions"

type TransactionsHandler struct {
	repo  TransactionStore
	stats *cache.Cache[transaction.Stats]
}

func NewTransactionsHandler(repo TransactionStore, stats *cache.Cache[transaction.Stats]) *TransactionsHandler {
	return &TransactionsHandler{repo: repo, stats: stats}
}

// List handles GET /admin/transactions. Stat cards sum the whole filtered set.
func (h *TransactionsHandler) List(ctx *gin.Context) {
	q, ok := parseListQuery(ctx, adminTransactionFilters...)
	if !ok {
		return
	}

	f, ok := transactionFilter(ctx, q)
	if !ok {
		return
	}
	if v := q.Filter("userId"); v != nil {
		if !utils.IsUUID(*v) {
			RespondBadRequest(ctx, "userId filter is invalid", gin.H{"field": "userId"})
			return
		}
		f.UserID = v
	}

	h.list(ctx, q, f, isUnfiltered(q))
}

// ListMine handles GET /transactions/mine.
func (h *TransactionsHandler) ListMine(ctx *gin.Context) {
	actor, ok := requireActor(ctx)
	if !ok {
		return
	}

	q, ok := parseListQuery(ctx, ownTransactionFilters...)
	if !ok {
		return
	}

	f, ok := transactionFilter(ctx, q)
	if !ok {
		return
	}
	f.UserID = &actor.UserID

	h.list(ctx, q, f, false)
}

func (h *TransactionsHandler) list(ctx *gin.Context, q listquery.Query, f transaction.ListFilter, cacheStats bool) {
	cctx, cancel := requestCtx(ctx)
	defer cancel()

	items, total, err := h.repo.List(cctx, f)
	if err != nil {
		RespondInternal(ctx, "Could not list transactions")
		return
	}

	var stats transaction.Stats
	if cacheStats {
		stats, err = h.globalStats(cctx)
	} else {
		statsFilter := f
		statsFilter.Limit, statsFilter.Offset = 0, 0
		stats, err = h.repo.Stats(cctx, statsFilter)
	}
	if err != nil {
		RespondInternal(ctx, "Could not load transaction stats")
		return
	}

	RespondData(ctx, listquery.NewResult(q, items, total, stats))
}

func (h *TransactionsHandler) Stats(ctx *gin.Context) {
	cctx, cancel := requestCtx(ctx)
	defer cancel()

	stats, err := h.globalStats(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not load transaction stats")
		return
	}

	RespondData(ctx, stats)
}

func (h *TransactionsHandler) globalStats(ctx context.Context) (transaction.Stats, error) {
	if h.stats == nil {
		return h.repo.Stats(ctx, transaction.ListFilter{})
	}
	return h.stats.GetOrLoad(transactionStatsKey, func() (transaction.Stats, error) {
		return h.repo.Stats(ctx, transaction.ListFilter{})
	})
}

// InvalidateStats drops the cached stat cards after a new transaction.
func (h *TransactionsHandler) InvalidateStats() {
	if h.stats != nil {
		h.stats.Delete(transactionStatsKey)
	}
}

func (h *TransactionsHandler) Get(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		respondBadID(ctx)
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	t, err := h.repo.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, transaction.ErrNotFound) {
			RespondNotFound(ctx, "Transaction not found")
			return
		}
		RespondInternal(ctx, "Could not fetch transaction")
		return
	}

	RespondData(ctx, t)
}

func transactionFilter(ctx *gin.Context, q listquery.Query) (transaction.ListFilter, bool) {
	f := transaction.ListFilter{
		Search: q.SearchPtr(),
		Limit:  q.Limit(),
		Offset: q.Offset(),
	}

	if v := q.Filter("type"); v != nil {
		t := transaction.Type(*v)
		if !t.IsValid() {
			RespondBadRequest(ctx, "type filter is invalid", gin.H{"field": "type"})
			return f, false
		}
		f.Type = &t
	}

	if v := q.Filter("status"); v != nil {
		s := transaction.Status(*v)
		if !s.IsValid() {
			RespondBadRequest(ctx, "status filter is invalid", gin.H{"field": "status"})
			return f, false
		}
		f.Status = &s
	}

	from, err := parseTimeFilter(q.Filter("from"), false)
	if err != nil {
		RespondBadRequest(ctx, "from must be RFC3339 or YYYY-MM-DD", gin.H{"field": "from"})
		return f, false
	}
	to, err := parseTimeFilter(q.Filter("to"), true)
	if err != nil {
		RespondBadRequest(ctx, "to must be RFC3339 or YYYY-MM-DD", gin.H{"field": "to"})
		return f, false
	}
	f.From, f.To = from, to

	return f, true
}
