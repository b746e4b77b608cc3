package catalog

import "github.com/platinummonkey/shopadmin/pkg/storage"

// Migrations returns the catalog schema
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "create brands, categories, products and ratings",
			SQL: `
CREATE TABLE IF NOT EXISTS brands (
	id VARCHAR(36) PRIMARY KEY,
	name VARCHAR(200) NOT NULL,
	description VARCHAR(2000) NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS categories (
	id VARCHAR(36) PRIMARY KEY,
	name VARCHAR(200) NOT NULL,
	parent_id VARCHAR(36) REFERENCES categories(id),
	sort_order INTEGER NOT NULL DEFAULT 0,
	seo_alias VARCHAR(200) NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_categories_parent_id ON categories(parent_id);

CREATE TABLE IF NOT EXISTS products (
	id VARCHAR(36) PRIMARY KEY,
	code VARCHAR(50) NOT NULL UNIQUE,
	name VARCHAR(200) NOT NULL,
	category_id VARCHAR(36) REFERENCES categories(id),
	brand_id VARCHAR(36) REFERENCES brands(id),
	price NUMERIC(18, 2) NOT NULL DEFAULT 0,
	description VARCHAR(4000) NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_category_id ON products(category_id);
CREATE INDEX IF NOT EXISTS idx_products_brand_id ON products(brand_id);

CREATE TABLE IF NOT EXISTS ratings (
	id VARCHAR(36) PRIMARY KEY,
	product_id VARCHAR(36) NOT NULL REFERENCES products(id),
	user_id VARCHAR(255) NOT NULL DEFAULT '',
	stars INTEGER NOT NULL CHECK (stars BETWEEN 1 AND 5),
	comment VARCHAR(1000) NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ratings_product_id ON ratings(product_id);
`,
		},
	}
}
