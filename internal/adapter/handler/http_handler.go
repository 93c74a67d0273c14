package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const idempotencyHeader = "Idempotency-Key"

type HTTPHandler struct {
	accounts  *service.AccountService
	inventory *service.InventoryService
	orders    *service.OrderService
	logger    *zap.Logger
}

func NewHTTPHandler(
	accounts *service.AccountService,
	inventory *service.InventoryService,
	orders *service.OrderService,
	logger *zap.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		accounts:  accounts,
		inventory: inventory,
		orders:    orders,
		logger:    logger,
	}
}

// Routes mounts the API on a chi router.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/users", h.CreateUser)
		r.Post("/sessions", h.CreateSession)
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.ShowProduct)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)

			r.Post("/users/{id}/token", h.RegenerateToken)

			r.Post("/products", h.CreateProduct)
			r.Patch("/products/{id}", h.UpdateProduct)
			r.Put("/products/{id}", h.UpdateProduct)
			r.Delete("/products/{id}", h.DestroyProduct)

			r.Get("/users/{id}/orders", h.ListOrders)
			r.Post("/users/{id}/orders", h.CreateOrder)
			r.Get("/users/{id}/orders/{orderID}", h.ShowOrder)
		})
	})
	return r
}

type accountCtxKey struct{}

func (h *HTTPHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("Authorization"))
		acc, err := h.accounts.Authenticate(r.Context(), token)
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"errors": "Not authenticated"})
			return
		}
		if err != nil {
			h.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountCtxKey{}, *acc)))
	})
}

func currentAccount(r *http.Request) domain.Account {
	acc, _ := r.Context().Value(accountCtxKey{}).(domain.Account)
	return acc
}

// requireSelf rejects requests on another account's {id} scope.
func requireSelf(r *http.Request) (domain.Account, error) {
	actor := currentAccount(r)
	id := chi.URLParam(r, "id")
	if actor.ID != id {
		return actor, &domain.ForbiddenError{AccountID: actor.ID, Entity: "account", ID: id}
	}
	return actor, nil
}

type userRequest struct {
	User struct {
		Email                string `json:"email"`
		Password             string `json:"password"`
		PasswordConfirmation string `json:"password_confirmation"`
	} `json:"user"`
}

type sessionRequest struct {
	Session struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	} `json:"session"`
}

type userJSON struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	AuthToken string `json:"auth_token,omitempty"`
}

func (h *HTTPHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decode(w, r, &req) {
		return
	}

	acc, err := h.accounts.CreateAccount(r.Context(), domain.Registration{
		Email:                req.User.Email,
		Password:             req.User.Password,
		PasswordConfirmation: req.User.PasswordConfirmation,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]userJSON{
		"user": {ID: acc.ID, Email: acc.Email, AuthToken: acc.AuthToken},
	})
}

func (h *HTTPHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}

	acc, err := h.accounts.SignIn(r.Context(), req.Session.Email, req.Session.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]userJSON{
		"user": {ID: acc.ID, Email: acc.Email, AuthToken: acc.AuthToken},
	})
}

func (h *HTTPHandler) RegenerateToken(w http.ResponseWriter, r *http.Request) {
	actor := currentAccount(r)
	token, err := h.accounts.RegenerateToken(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]userJSON{
		"user": {ID: actor.ID, Email: actor.Email, AuthToken: token},
	})
}

// looseString accepts a JSON string or number and keeps its raw text, so
// "Hundred dollars" reaches validation instead of failing decode.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	*s = looseString(strings.TrimSpace(string(b)))
	return nil
}

type productRequest struct {
	Product struct {
		Title     *string      `json:"title"`
		Price     *looseString `json:"price"`
		Quantity  *int         `json:"quantity"`
		Published *bool        `json:"published"`
	} `json:"product"`
}

func (p productRequest) attributes() domain.ItemAttributes {
	attrs := domain.ItemAttributes{
		Title:     p.Product.Title,
		Quantity:  p.Product.Quantity,
		Published: p.Product.Published,
	}
	if p.Product.Price != nil {
		price := string(*p.Product.Price)
		attrs.Price = &price
	}
	return attrs
}

type productJSON struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Price     string    `json:"price"`
	Quantity  int       `json:"quantity"`
	Published bool      `json:"published"`
	User      *userJSON `json:"user,omitempty"`
}

func toProductJSON(item domain.InventoryItem, owner *domain.Account) productJSON {
	out := productJSON{
		ID:        item.ID,
		Title:     item.Title,
		Price:     item.Price.StringFixed(domain.PriceScale),
		Quantity:  item.Quantity,
		Published: item.Published,
	}
	if owner != nil {
		out.User = &userJSON{ID: owner.ID, Email: owner.Email}
	}
	return out
}

// owners resolves the owner of every item once per request.
func (h *HTTPHandler) owners(ctx context.Context, items []domain.InventoryItem) map[string]*domain.Account {
	out := make(map[string]*domain.Account)
	for _, item := range items {
		if _, done := out[item.AccountID]; done {
			continue
		}
		acc, err := h.accounts.GetAccount(ctx, item.AccountID)
		if err != nil {
			h.logger.Warn("failed to load item owner",
				zap.String("account_id", item.AccountID),
				zap.Error(err),
			)
		}
		out[item.AccountID] = acc
	}
	return out
}

type paginationJSON struct {
	CurrentPage  int `json:"current_page"`
	PerPage      int `json:"per_page"`
	TotalPages   int `json:"total_pages"`
	TotalObjects int `json:"total_objects"`
}

type metaJSON struct {
	Pagination paginationJSON `json:"pagination"`
}

func toMeta(p domain.Pagination) metaJSON {
	return metaJSON{Pagination: paginationJSON{
		CurrentPage:  p.CurrentPage,
		PerPage:      p.PerPage,
		TotalPages:   p.TotalPages,
		TotalObjects: p.TotalCount,
	}}
}

func pageFrom(r *http.Request) domain.Page {
	number, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	return domain.Page{Number: number, PerPage: perPage}.Normalize()
}

// itemFilterFrom reads product_ids as repeated, bracketed or comma-separated
// query values.
func itemFilterFrom(r *http.Request) domain.ItemFilter {
	query := r.URL.Query()
	var ids []string
	for _, key := range []string{"product_ids", "product_ids[]"} {
		for _, v := range query[key] {
			for _, id := range strings.Split(v, ",") {
				if id = strings.TrimSpace(id); id != "" {
					ids = append(ids, id)
				}
			}
		}
	}
	return domain.ItemFilter{IDs: ids}
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	items, pg, err := h.inventory.ListItems(r.Context(), itemFilterFrom(r), pageFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	owners := h.owners(r.Context(), items)
	products := make([]productJSON, 0, len(items))
	for _, item := range items {
		products = append(products, toProductJSON(item, owners[item.AccountID]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"products": products,
		"meta":     toMeta(pg),
	})
}

func (h *HTTPHandler) ShowProduct(w http.ResponseWriter, r *http.Request) {
	item, err := h.inventory.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	owners := h.owners(r.Context(), []domain.InventoryItem{*item})
	writeJSON(w, http.StatusOK, map[string]productJSON{"product": toProductJSON(*item, owners[item.AccountID])})
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !decode(w, r, &req) {
		return
	}

	actor := currentAccount(r)
	item, err := h.inventory.CreateItem(r.Context(), actor, req.attributes())
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/products/"+item.ID)
	writeJSON(w, http.StatusCreated, map[string]productJSON{"product": toProductJSON(*item, &actor)})
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !decode(w, r, &req) {
		return
	}

	actor := currentAccount(r)
	item, err := h.inventory.UpdateItem(r.Context(), actor, chi.URLParam(r, "id"), req.attributes())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]productJSON{"product": toProductJSON(*item, &actor)})
}

func (h *HTTPHandler) DestroyProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.inventory.DestroyItem(r.Context(), currentAccount(r), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// orderPairJSON accepts either [product_id, quantity] or
// {"product_id": ..., "quantity": ...}.
type orderPairJSON domain.OrderPair

func (p *orderPairJSON) UnmarshalJSON(b []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(b, &tuple); err == nil {
		if len(tuple) != 2 {
			return fmt.Errorf("order pair must have 2 elements, got %d", len(tuple))
		}
		var id looseString
		if err := json.Unmarshal(tuple[0], &id); err != nil {
			return err
		}
		var qty int
		if err := json.Unmarshal(tuple[1], &qty); err != nil {
			return fmt.Errorf("order pair quantity: %w", err)
		}
		*p = orderPairJSON{ItemID: string(id), Quantity: qty}
		return nil
	}

	var obj struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*p = orderPairJSON{ItemID: obj.ProductID, Quantity: obj.Quantity}
	return nil
}

type orderRequest struct {
	Order struct {
		ProductIDsAndQuantities []orderPairJSON `json:"product_ids_and_quantities"`
	} `json:"order"`
}

type lineItemJSON struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type orderJSON struct {
	ID        string         `json:"id"`
	Total     string         `json:"total"`
	Products  []productJSON  `json:"products"`
	LineItems []lineItemJSON `json:"line_items"`
	CreatedAt time.Time      `json:"created_at"`
}

func toOrderJSON(view service.OrderView) orderJSON {
	out := orderJSON{
		ID:        view.Order.ID,
		Total:     view.Total.StringFixed(domain.PriceScale),
		Products:  []productJSON{},
		LineItems: make([]lineItemJSON, 0, len(view.Order.LineItems)),
		CreatedAt: view.Order.CreatedAt,
	}
	for _, id := range view.Order.ItemIDs() {
		if item, ok := view.Items[id]; ok {
			out.Products = append(out.Products, toProductJSON(item, nil))
		}
	}
	for _, li := range view.Order.LineItems {
		out.LineItems = append(out.LineItems, lineItemJSON{ProductID: li.ItemID, Quantity: li.Quantity})
	}
	return out
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := requireSelf(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req orderRequest
	if !decode(w, r, &req) {
		return
	}
	pairs := make([]domain.OrderPair, 0, len(req.Order.ProductIDsAndQuantities))
	for _, p := range req.Order.ProductIDsAndQuantities {
		pairs = append(pairs, domain.OrderPair(p))
	}

	order, err := h.orders.PlaceOrder(r.Context(), r.Header.Get(idempotencyHeader), actor, pairs)
	if err != nil {
		h.writeError(w, err)
		return
	}

	view, err := h.orders.View(r.Context(), *order)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/users/%s/orders/%s", actor.ID, order.ID))
	writeJSON(w, http.StatusCreated, map[string]orderJSON{"order": toOrderJSON(*view)})
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actor, err := requireSelf(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views, pg, err := h.orders.ListOrders(r.Context(), actor, pageFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	orders := make([]orderJSON, 0, len(views))
	for _, v := range views {
		orders = append(orders, toOrderJSON(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"meta":   toMeta(pg),
	})
}

func (h *HTTPHandler) ShowOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := requireSelf(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	view, err := h.orders.GetOrder(r.Context(), actor, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]orderJSON{"order": toOrderJSON(*view)})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errors": "invalid request body"})
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": verr.Fields})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"errors": err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"errors": "forbidden"})
	case errors.Is(err, service.ErrDuplicateRequest):
		writeJSON(w, http.StatusConflict, map[string]string{"errors": "duplicate request"})
	case errors.Is(err, domain.ErrResourceExhausted):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"errors": err.Error()})
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"errors": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
