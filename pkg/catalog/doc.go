// Package catalog stores brands, categories, products and customer ratings
// and serves them over /api/brands, /api/categories, /api/products and
// /api/ratings.
//
// Reads and rating submission are anonymous. Mutations are guarded by the
// CONTENT_* functions of the permission matrix. Products are cached under
// catalog:product:<id>.
package catalog
