package shopify

import (
	"context"
	"errors"
	"strings"
)

// Product is the subset of a Shopify product mirrored locally.
type Product struct {
	ID          string
	Title       string
	Description string
	Handle      string
	ImageURL    string
	Price       string
	Currency    string
}

// ProductPage is one page of a products connection.
type ProductPage struct {
	Products    []Product
	HasNextPage bool
	EndCursor   string
}

const productFields = `
  id
  title
  description
  handle
  featuredImage { url }
  variants(first: 1) {
    edges { node { price } }
  }
`

const productsQuery = `query products($first: Int!, $after: String) {
  shop { currencyCode }
  products(first: $first, after: $after) {
    pageInfo { hasNextPage endCursor }
    edges { node {` + productFields + `} }
  }
}`

const productQuery = `query product($id: ID!) {
  shop { currencyCode }
  product(id: $id) {` + productFields + `}
}`

type productNode struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Handle        string `json:"handle"`
	FeaturedImage *struct {
		URL string `json:"url"`
	} `json:"featuredImage"`
	Variants struct {
		Edges []struct {
			Node struct {
				Price string `json:"price"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"variants"`
}

type shopCurrency struct {
	CurrencyCode string `json:"currencyCode"`
}

func (n productNode) toProduct(currency string) Product {
	p := Product{
		ID:          n.ID,
		Title:       n.Title,
		Description: n.Description,
		Handle:      n.Handle,
		Price:       "0",
		Currency:    currency,
	}
	if n.FeaturedImage != nil {
		p.ImageURL = n.FeaturedImage.URL
	}
	if len(n.Variants.Edges) > 0 && n.Variants.Edges[0].Node.Price != "" {
		p.Price = n.Variants.Edges[0].Node.Price
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	return p
}

// Products fetches one page of products.
func (c *Client) Products(ctx context.Context, shop, accessToken string, first int, after string) (*ProductPage, error) {
	if first <= 0 {
		first = 10
	}
	vars := map[string]any{"first": first}
	if after != "" {
		vars["after"] = after
	}

	var data struct {
		Shop     shopCurrency `json:"shop"`
		Products struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Edges []struct {
				Node productNode `json:"node"`
			} `json:"edges"`
		} `json:"products"`
	}
	if err := c.Do(ctx, shop, accessToken, productsQuery, vars, &data); err != nil {
		return nil, err
	}

	page := &ProductPage{
		HasNextPage: data.Products.PageInfo.HasNextPage,
		EndCursor:   data.Products.PageInfo.EndCursor,
		Products:    make([]Product, 0, len(data.Products.Edges)),
	}
	for _, edge := range data.Products.Edges {
		page.Products = append(page.Products, edge.Node.toProduct(data.Shop.CurrencyCode))
	}
	return page, nil
}

// ErrProductNotFound is returned when a product id resolves to nothing.
var ErrProductNotFound = errors.New("shopify: product not found")

// Product fetches a single product by its global id.
func (c *Client) Product(ctx context.Context, shop, accessToken, id string) (*Product, error) {
	var data struct {
		Shop    shopCurrency `json:"shop"`
		Product *productNode `json:"product"`
	}
	if err := c.Do(ctx, shop, accessToken, productQuery, map[string]any{"id": ProductGID(id)}, &data); err != nil {
		return nil, err
	}
	if data.Product == nil {
		return nil, ErrProductNotFound
	}
	p := data.Product.toProduct(data.Shop.CurrencyCode)
	return &p, nil
}

// ProductGID turns a numeric product id into a global id; global ids pass through.
func ProductGID(id string) string {
	if id == "" || strings.HasPrefix(id, "gid://") {
		return id
	}
	return "gid://shopify/Product/" + id
}
