package catalog

import (
	"time"

	"github.com/platinummonkey/shopadmin/pkg/storage"
)

// Brand is a product manufacturer or label
type Brand struct {
	ID          string `json:"id"`
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	IsActive    bool   `json:"isActive"`
}

// Category groups products in a tree
type Category struct {
	ID        string  `json:"id"`
	Name      string  `json:"name" validate:"required,max=200"`
	ParentID  *string `json:"parentId" validate:"omitempty,max=36"`
	SortOrder int     `json:"sortOrder" validate:"gte=0"`
	SeoAlias  string  `json:"seoAlias" validate:"max=200"`
	IsActive  bool    `json:"isActive"`
}

// Product is a sellable item
type Product struct {
	ID          string    `json:"id"`
	Code        string    `json:"code" validate:"required,max=50"`
	Name        string    `json:"name" validate:"required,max=200"`
	CategoryID  *string   `json:"categoryId" validate:"omitempty,max=36"`
	BrandID     *string   `json:"brandId" validate:"omitempty,max=36"`
	Price       float64   `json:"price" validate:"gte=0"`
	Description string    `json:"description" validate:"max=4000"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Rating is one customer's score for a product
type Rating struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	UserID    string    `json:"userId"`
	Stars     int       `json:"stars" validate:"required,min=1,max=5"`
	Comment   string    `json:"comment" validate:"max=1000"`
	CreatedAt time.Time `json:"createdAt"`
}

// AverageRating summarizes a product's ratings. A product with no ratings
// has an average of 0.
type AverageRating struct {
	ProductID     string  `json:"productId"`
	AverageRating float64 `json:"averageRating"`
	Count         int     `json:"count"`
}

// ProductQuery narrows a product listing to a category or brand
type ProductQuery struct {
	storage.PageQuery
	CategoryID string
	BrandID    string
}
