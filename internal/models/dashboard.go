package models

// KPI is the headline figures of the dashboard for one period.
type KPI struct {
	TotalRevenue         float64 `json:"total_revenue"`
	RevenueChangePercent float64 `json:"revenue_change_percent"`
	TotalOrders          int64   `json:"total_orders"`
	OrdersChangePercent  float64 `json:"orders_change_percent"`
	TotalBuyouts         int64   `json:"total_buyouts"`
	AvgBuyoutRate        float64 `json:"avg_buyout_rate"`
	AvgCheck             float64 `json:"avg_check"`
	LowStockCount        int64   `json:"low_stock_count"`
}

// Product is one row of the products table.
type Product struct {
	NmID                 int64   `json:"nm_id"`
	VendorCode           string  `json:"vendor_code,omitempty"`
	Barcode              string  `json:"barcode,omitempty"`
	Title                string  `json:"title,omitempty"`
	Manager              string  `json:"manager,omitempty"`
	ImageURL             string  `json:"image_url,omitempty"`
	Orders               int64   `json:"orders"`
	OrdersChangePercent  float64 `json:"orders_change_percent"`
	Buyouts              int64   `json:"buyouts"`
	BuyoutsChangePercent float64 `json:"buyouts_change_percent"`
	BuyoutRate           float64 `json:"buyout_rate"`
	Revenue              float64 `json:"revenue"`
	RevenueChangePercent float64 `json:"revenue_change_percent"`
	AvgCheck             float64 `json:"avg_check"`
	StockWB              int64   `json:"stock_wb"`
	StockOwn             int64   `json:"stock_own"`
	TotalStock           int64   `json:"total_stock"`
}

// ProductList is a page of products.
type ProductList struct {
	Items []Product `json:"items"`
	Total int64     `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}
