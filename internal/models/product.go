package models

// Product is a storefront product mirrored from the Admin API.
type Product struct {
	BaseModel

	ShopDomain  string `gorm:"size:255;not null;uniqueIndex:idx_product_shop_gid" json:"shop"`
	ShopifyID   string `gorm:"size:128;not null;uniqueIndex:idx_product_shop_gid" json:"shopify_id"`
	Title       string `gorm:"size:255;not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	Handle      string `gorm:"size:255" json:"handle"`
	ImageURL    string `gorm:"size:1024" json:"image_url,omitempty"`
	Price       string `gorm:"size:32;not null;default:'0'" json:"price"`
	Currency    string `gorm:"size:8;not null;default:'USD'" json:"currency"`
}
