// Package validation runs declarative struct-tag validation on request models.
//
// Request types carry `validate` tags (go-playground/validator). Struct
// returns an *apperr.Error of kind validation whose Fields use the JSON field
// names, so the HTTP layer can render {"message", "errors": [...]} directly.
//
//	type createBrandRequest struct {
//		Name string `json:"name" validate:"required,max=200"`
//	}
//
//	if err := validation.Struct(req); err != nil {
//		httputil.WriteAppError(w, r, err)
//		return
//	}
package validation
