package catalog

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/shopadmin/pkg/audit"
	"github.com/platinummonkey/shopadmin/pkg/auth"
	"github.com/platinummonkey/shopadmin/pkg/httputil"
	"github.com/platinummonkey/shopadmin/pkg/observability"
	"github.com/platinummonkey/shopadmin/pkg/storage"
)

// Functions of the permission matrix that guard catalog mutations
const (
	FunctionContent  = "CONTENT"
	FunctionBrand    = "CONTENT_BRAND"
	FunctionCategory = "CONTENT_CATEGORY"
	FunctionProduct  = "CONTENT_PRODUCT"
	FunctionRating   = "CONTENT_RATING"
)

// Handlers provides HTTP handlers for the catalog
type Handlers struct {
	store       *Store
	auditLogger audit.Logger
	metrics     *observability.Metrics
}

// NewHandlers creates catalog handlers. auditLogger and metrics may be nil.
func NewHandlers(store *Store, auditLogger audit.Logger, metrics *observability.Metrics) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NoopLogger{}
	}
	return &Handlers{store: store, auditLogger: auditLogger, metrics: metrics}
}

// RegisterRoutes registers the catalog routes. Reads and rating submission
// are anonymous; everything else goes through guard.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	// Brands
	router.HandleFunc("/api/brands", h.listBrands).Methods("GET")
	router.HandleFunc("/api/brands/filter", h.filterBrands).Methods("GET")
	router.HandleFunc("/api/brands/{id}", h.getBrand).Methods("GET")
	router.Handle("/api/brands", guarded(guard, FunctionBrand, "POST", h.createBrand)).Methods("POST")
	router.Handle("/api/brands/{id}", guarded(guard, FunctionBrand, "PUT", h.updateBrand)).Methods("PUT")
	router.Handle("/api/brands/{id}", guarded(guard, FunctionBrand, "DELETE", h.deleteBrand)).Methods("DELETE")

	// Categories
	router.HandleFunc("/api/categories", h.listCategories).Methods("GET")
	router.HandleFunc("/api/categories/filter", h.filterCategories).Methods("GET")
	router.HandleFunc("/api/categories/{id}", h.getCategory).Methods("GET")
	router.Handle("/api/categories", guarded(guard, FunctionCategory, "POST", h.createCategory)).Methods("POST")
	router.Handle("/api/categories/{id}", guarded(guard, FunctionCategory, "PUT", h.updateCategory)).Methods("PUT")
	router.Handle("/api/categories/{id}", guarded(guard, FunctionCategory, "DELETE", h.deleteCategory)).Methods("DELETE")

	// Products
	router.HandleFunc("/api/products", h.listProducts).Methods("GET")
	router.HandleFunc("/api/products/filter", h.filterProducts).Methods("GET")
	router.HandleFunc("/api/products/{id}", h.getProduct).Methods("GET")
	router.Handle("/api/products", guarded(guard, FunctionProduct, "POST", h.createProduct)).Methods("POST")
	router.Handle("/api/products/{id}", guarded(guard, FunctionProduct, "PUT", h.updateProduct)).Methods("PUT")
	router.Handle("/api/products/{id}", guarded(guard, FunctionProduct, "DELETE", h.deleteProduct)).Methods("DELETE")

	// Ratings
	router.HandleFunc("/api/products/{id}/ratings", h.listRatings).Methods("GET")
	router.HandleFunc("/api/products/{id}/ratings", h.createRating).Methods("POST")
	router.HandleFunc("/api/products/{id}/ratings/average", h.averageRating).Methods("GET")
	router.Handle("/api/ratings/{id}", guarded(guard, FunctionRating, "DELETE", h.deleteRating)).Methods("DELETE")
}

// guarded protects h with the matrix command implied by method
func guarded(guard httputil.Guard, functionID, method string, h http.HandlerFunc) http.Handler {
	return httputil.Protect(guard, functionID, httputil.CommandForMethod(method), h)
}

func (h *Handlers) paging(w http.ResponseWriter, r *http.Request) (storage.PageQuery, bool) {
	paging, err := httputil.ParsePaging(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return storage.PageQuery{}, false
	}
	return paging.Query(), true
}

// listBrands handles GET /api/brands
func (h *Handlers) listBrands(w http.ResponseWriter, r *http.Request) {
	page, err := h.store.ListBrands(r.Context(), storage.PageQuery{})
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page.Items)
}

// filterBrands handles GET /api/brands/filter
func (h *Handlers) filterBrands(w http.ResponseWriter, r *http.Request) {
	q, ok := h.paging(w, r)
	if !ok {
		return
	}
	page, err := h.store.ListBrands(r.Context(), q)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page)
}

// getBrand handles GET /api/brands/{id}
func (h *Handlers) getBrand(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	b, err := h.store.GetBrand(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, b)
}

// createBrand handles POST /api/brands
func (h *Handlers) createBrand(w http.ResponseWriter, r *http.Request) {
	var b Brand
	if !httputil.ParseJSONOrError(w, r, &b) {
		return
	}
	created, err := h.store.CreateBrand(r.Context(), b)
	h.logAudit(r, audit.EventTypeCatalogCreate, audit.ResourceTypeBrand, idOf(created), nil, created, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// updateBrand handles PUT /api/brands/{id}
func (h *Handlers) updateBrand(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var b Brand
	if !httputil.ParseJSONOrError(w, r, &b) {
		return
	}
	current, err := h.store.GetBrand(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	updated, err := h.store.UpdateBrand(r.Context(), id, b)
	h.logAudit(r, audit.EventTypeCatalogUpdate, audit.ResourceTypeBrand, id, current, updated, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// deleteBrand handles DELETE /api/brands/{id}
func (h *Handlers) deleteBrand(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	current, err := h.store.GetBrand(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	err = h.store.DeleteBrand(r.Context(), id)
	h.logAudit(r, audit.EventTypeCatalogDelete, audit.ResourceTypeBrand, id, current, nil, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listCategories handles GET /api/categories
func (h *Handlers) listCategories(w http.ResponseWriter, r *http.Request) {
	page, err := h.store.ListCategories(r.Context(), storage.PageQuery{})
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page.Items)
}

// filterCategories handles GET /api/categories/filter
func (h *Handlers) filterCategories(w http.ResponseWriter, r *http.Request) {
	q, ok := h.paging(w, r)
	if !ok {
		return
	}
	page, err := h.store.ListCategories(r.Context(), q)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page)
}

// getCategory handles GET /api/categories/{id}
func (h *Handlers) getCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	c, err := h.store.GetCategory(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, c)
}

// createCategory handles POST /api/categories
func (h *Handlers) createCategory(w http.ResponseWriter, r *http.Request) {
	var c Category
	if !httputil.ParseJSONOrError(w, r, &c) {
		return
	}
	created, err := h.store.CreateCategory(r.Context(), c)
	h.logAudit(r, audit.EventTypeCatalogCreate, audit.ResourceTypeCategory, idOf(created), nil, created, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// updateCategory handles PUT /api/categories/{id}
func (h *Handlers) updateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var c Category
	if !httputil.ParseJSONOrError(w, r, &c) {
		return
	}
	current, err := h.store.GetCategory(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	updated, err := h.store.UpdateCategory(r.Context(), id, c)
	h.logAudit(r, audit.EventTypeCatalogUpdate, audit.ResourceTypeCategory, id, current, updated, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// deleteCategory handles DELETE /api/categories/{id}
func (h *Handlers) deleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	current, err := h.store.GetCategory(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	err = h.store.DeleteCategory(r.Context(), id)
	h.logAudit(r, audit.EventTypeCatalogDelete, audit.ResourceTypeCategory, id, current, nil, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func productQuery(r *http.Request, q storage.PageQuery) ProductQuery {
	return ProductQuery{
		PageQuery:  q,
		CategoryID: httputil.ParseQueryString(r, "categoryId", ""),
		BrandID:    httputil.ParseQueryString(r, "brandId", ""),
	}
}

// listProducts handles GET /api/products
func (h *Handlers) listProducts(w http.ResponseWriter, r *http.Request) {
	page, err := h.store.ListProducts(r.Context(), productQuery(r, storage.PageQuery{}))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page.Items)
}

// filterProducts handles GET /api/products/filter
func (h *Handlers) filterProducts(w http.ResponseWriter, r *http.Request) {
	q, ok := h.paging(w, r)
	if !ok {
		return
	}
	page, err := h.store.ListProducts(r.Context(), productQuery(r, q))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page)
}

// getProduct handles GET /api/products/{id}
func (h *Handlers) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	p, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

// createProduct handles POST /api/products
func (h *Handlers) createProduct(w http.ResponseWriter, r *http.Request) {
	var p Product
	if !httputil.ParseJSONOrError(w, r, &p) {
		return
	}
	created, err := h.store.CreateProduct(r.Context(), p)
	h.logAudit(r, audit.EventTypeCatalogCreate, audit.ResourceTypeProduct, idOf(created), nil, created, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// updateProduct handles PUT /api/products/{id}
func (h *Handlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var p Product
	if !httputil.ParseJSONOrError(w, r, &p) {
		return
	}
	current, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	updated, err := h.store.UpdateProduct(r.Context(), id, p)
	h.logAudit(r, audit.EventTypeCatalogUpdate, audit.ResourceTypeProduct, id, current, updated, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// deleteProduct handles DELETE /api/products/{id}
func (h *Handlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	current, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	err = h.store.DeleteProduct(r.Context(), id)
	h.logAudit(r, audit.EventTypeCatalogDelete, audit.ResourceTypeProduct, id, current, nil, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listRatings handles GET /api/products/{id}/ratings
func (h *Handlers) listRatings(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	q, ok := h.paging(w, r)
	if !ok {
		return
	}
	page, err := h.store.ListRatings(r.Context(), id, q)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page)
}

// createRating handles POST /api/products/{id}/ratings. The caller's
// subject is recorded when a token was presented.
func (h *Handlers) createRating(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var rating Rating
	if !httputil.ParseJSONOrError(w, r, &rating) {
		return
	}
	var userID string
	if ac, ok := auth.FromContext(r.Context()); ok {
		userID = ac.Subject
	}
	created, err := h.store.CreateRating(r.Context(), id, rating, userID)
	h.logAudit(r, audit.EventTypeCatalogCreate, audit.ResourceTypeRating, idOf(created), nil, created, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// averageRating handles GET /api/products/{id}/ratings/average
func (h *Handlers) averageRating(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	avg, err := h.store.AverageRating(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, avg)
}

// deleteRating handles DELETE /api/ratings/{id}
func (h *Handlers) deleteRating(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	err := h.store.DeleteRating(r.Context(), id)
	h.logAudit(r, audit.EventTypeCatalogDelete, audit.ResourceTypeRating, id, nil, nil, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func idOf(v interface{}) string {
	switch e := v.(type) {
	case *Brand:
		if e != nil {
			return e.ID
		}
	case *Category:
		if e != nil {
			return e.ID
		}
	case *Product:
		if e != nil {
			return e.ID
		}
	case *Rating:
		if e != nil {
			return e.ID
		}
	}
	return ""
}

// logAudit records a catalog mutation. Failures to write the audit trail
// are logged and never fail the request.
func (h *Handlers) logAudit(r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, resourceID string, before, after interface{}, opErr error) {
	ctx := r.Context()
	status := audit.EventStatusSuccess
	if opErr != nil {
		status = audit.EventStatusFailure
	}

	event := audit.NewEvent(ctx, eventType, status).WithRequest(r)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	if ac, ok := auth.FromContext(ctx); ok {
		event.Username = ac.Username
	}
	if opErr != nil {
		event.ErrorMessage = opErr.Error()
	} else {
		h.metrics.CatalogMutation(string(resourceType), string(eventType))
		if before != nil || after != nil {
			event.Changes = &audit.ChangeDetails{Before: before, After: after}
		}
	}

	if err := h.auditLogger.Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to write audit event")
	}
}
