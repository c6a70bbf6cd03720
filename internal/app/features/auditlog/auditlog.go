// internal/app/features/auditlog/auditlog.go
package auditlog

import (
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	errorsfeature "github.com/dalemusser/axiom/internal/app/features/errors"
	"github.com/dalemusser/axiom/internal/app/store/audit"
	"github.com/dalemusser/axiom/internal/app/store/storeutil"
	userstore "github.com/dalemusser/axiom/internal/app/store/users"
	"github.com/dalemusser/axiom/internal/app/system/auth"
	"github.com/dalemusser/axiom/internal/app/system/timeouts"
	"github.com/dalemusser/axiom/internal/app/system/timezones"
	"github.com/dalemusser/axiom/internal/app/system/viewdata"
	"github.com/dalemusser/axiom/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
	"github.com/dalemusser/waffle/pantry/templates"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const pageSize int64 = 50

// Handler serves the admin audit log viewer.
type Handler struct {
	auditStore *audit.Store
	userStore  *userstore.Store
	errLog     *errorsfeature.ErrorLogger
	logger     *zap.Logger
}

// NewHandler creates a new audit log Handler.
func NewHandler(auditStore *audit.Store, users *userstore.Store, errLog *errorsfeature.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{
		auditStore: auditStore,
		userStore:  users,
		errLog:     errLog,
		logger:     logger,
	}
}

type listItem struct {
	When          time.Time
	Category      string
	EventType     string
	Username      string
	IP            string
	Success       bool
	FailureReason string
	Details       map[string]string
}

type categoryOption struct {
	Value string
	Label string
}

var categories = []categoryOption{
	{Value: audit.CategoryAuth, Label: "Authentication"},
	{Value: audit.CategoryAccount, Label: "Account"},
	{Value: audit.CategoryAdmin, Label: "Administration"},
}

type listData struct {
	viewdata.BaseVM
	Notice string

	Items []listItem

	// Filters as submitted
	Category  string
	EventType string
	Success   string
	User      string
	StartDate string
	EndDate   string
	Timezone  string

	Categories     []categoryOption
	EventTypes     []string
	TimezoneGroups []timezones.ZoneGroup

	Page       int64
	TotalPages int64
	Total      int64
	RangeStart int64
	RangeEnd   int64
	PrevURL    string
	NextURL    string
}

// Routes returns a chi.Router with audit log routes mounted. Only admins may
// view the log.
func Routes(h *Handler, sessionMgr *auth.SessionManager) http.Handler {
	r := chi.NewRouter()
	r.Use(sessionMgr.RequireRole(models.RoleAdmin))
	r.Get("/", h.list)
	return r
}

// list displays audit events newest first with filtering and pagination.
// Date filters are calendar days in the selected time zone; timestamps are
// shown in that zone too.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	vm := listData{
		BaseVM:         viewdata.NewBaseVM(r, "Audit Log", "/dashboard"),
		Category:       validCategory(query.Get(r, "category")),
		EventType:      query.Get(r, "event_type"),
		Success:        query.Get(r, "success"),
		User:           query.Get(r, "user"),
		StartDate:      query.Get(r, "start_date"),
		EndDate:        query.Get(r, "end_date"),
		Timezone:       query.Get(r, "tz"),
		Categories:     categories,
		TimezoneGroups: timezones.Groups(),
	}
	if !timezones.Valid(vm.Timezone) {
		vm.Timezone = "UTC"
	}
	loc := timezones.Location(vm.Timezone)

	number, _ := strconv.ParseInt(query.Get(r, "page"), 10, 64)
	page := storeutil.NewPage(number, pageSize)

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.logger, "list audit events")
	defer cancel()

	filter := audit.Filter{Category: vm.Category, EventType: vm.EventType}
	filter.Since, filter.Until = timezones.DayRange(vm.StartDate, vm.EndDate, loc)
	switch vm.Success {
	case "true", "false":
		ok := vm.Success == "true"
		filter.Success = &ok
	default:
		vm.Success = ""
	}

	if vm.User != "" {
		u, err := h.userStore.GetByUsername(ctx, vm.User)
		switch {
		case errors.Is(err, userstore.ErrNotFound):
			vm.Notice = "No user named " + vm.User + "."
			h.render(w, r, vm, page, 0)
			return
		case err != nil:
			h.errLog.Log(r, "failed to resolve audit user filter", err)
			errorsfeature.NewHandler().InternalError(w, r)
			return
		}
		filter.UserID = &u.ID
	}

	events, total, err := h.auditStore.List(ctx, filter, page)
	if err != nil {
		h.errLog.Log(r, "failed to list audit events", err)
		errorsfeature.NewHandler().InternalError(w, r)
		return
	}

	types, err := h.auditStore.EventTypes(ctx)
	if err != nil {
		h.logger.Warn("failed to load audit event types", zap.Error(err))
	}
	sort.Strings(types)
	vm.EventTypes = types

	names := h.usernames(r, events)
	vm.Items = make([]listItem, 0, len(events))
	for _, e := range events {
		item := listItem{
			When:          e.CreatedAt.In(loc),
			Category:      e.Category,
			EventType:     e.EventType,
			Username:      e.Username,
			IP:            e.IP,
			Success:       e.Success,
			FailureReason: e.FailureReason,
			Details:       e.Details,
		}
		if e.UserID != nil {
			if name, ok := names[*e.UserID]; ok {
				item.Username = name
			}
		}
		vm.Items = append(vm.Items, item)
	}

	h.render(w, r, vm, page, total)
}

// usernames resolves the current usernames of the users the events name.
// A lookup failure only costs the display names.
func (h *Handler) usernames(r *http.Request, events []audit.Event) map[primitive.ObjectID]string {
	seen := make(map[primitive.ObjectID]struct{})
	ids := make([]primitive.ObjectID, 0, len(events))
	for _, e := range events {
		if e.UserID == nil {
			continue
		}
		if _, dup := seen[*e.UserID]; !dup {
			seen[*e.UserID] = struct{}{}
			ids = append(ids, *e.UserID)
		}
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "resolve audit usernames")
	defer cancel()
	names, err := h.userStore.Usernames(ctx, ids)
	if err != nil {
		h.logger.Warn("failed to resolve usernames for audit log", zap.Error(err))
		return nil
	}
	return names
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, vm listData, page storeutil.Page, total int64) {
	vm.Page = page.Number
	vm.Total = total
	vm.TotalPages = page.Pages(total)
	if n := int64(len(vm.Items)); n > 0 {
		vm.RangeStart = page.Skip() + 1
		vm.RangeEnd = page.Skip() + n
	}
	if page.Number > 1 {
		vm.PrevURL = pageURL(r, page.Number-1)
	}
	if page.Number < vm.TotalPages {
		vm.NextURL = pageURL(r, page.Number+1)
	}
	templates.Render(w, r, "auditlog/list", vm)
}

// pageURL keeps the current filters and swaps the page number.
func pageURL(r *http.Request, number int64) string {
	q := url.Values{}
	for k, v := range r.URL.Query() {
		q[k] = v
	}
	q.Set("page", strconv.FormatInt(number, 10))
	return r.URL.Path + "?" + q.Encode()
}

func validCategory(c string) string {
	for _, opt := range categories {
		if opt.Value == c {
			return c
		}
	}
	return ""
}
