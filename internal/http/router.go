package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterOptions struct {
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ExposeMetrics  bool
}

func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(h.RequestLogger)
	r.Use(h.Recoverer)
	r.Use(h.Metrics)
	r.Use(CORS(opts.AllowedOrigins))

	r.Get("/healthz", h.Health)
	if opts.ExposeMetrics {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.Authenticate)

		// The event stream is long-lived and sits outside the request deadline.
		r.Get("/events", h.Events)

		r.Group(func(r chi.Router) {
			r.Use(Deadline(opts.ReadTimeout, opts.WriteTimeout))

			r.Route("/inventory", func(r chi.Router) {
				r.Post("/", h.CreateStockRow)
				r.Get("/", h.ListStock)
				r.Get("/low-stock", h.LowStock)
				r.Get("/out-of-stock", h.OutOfStock)
				r.Get("/expired", h.Expired)
				r.Post("/import", h.ImportStock)
				r.Get("/{id}", h.GetStockRow)
				r.Get("/{id}/history", h.StockHistory)
				r.Patch("/{id}/adjust", h.AdjustStock)
			})

			r.Route("/sales", func(r chi.Router) {
				r.Post("/", h.CreateSale)
				r.Get("/", h.ListSales)
				r.Get("/{id}", h.GetSale)
				r.Delete("/{id}", h.DeleteSale)
			})

			r.Route("/purchases", func(r chi.Router) {
				r.Post("/", h.CreatePurchase)
				r.Get("/", h.ListPurchases)
				r.Get("/{id}", h.GetPurchase)
				r.Post("/{id}/receive", h.ReceivePurchase)
			})

			r.Route("/transfers", func(r chi.Router) {
				r.Post("/", h.RequestTransfer)
				r.Get("/", h.ListTransfers)
				r.Get("/{id}", h.GetTransfer)
				r.Patch("/{id}/ship", h.ShipTransfer)
				r.Patch("/{id}/receive", h.ReceiveTransfer)
				r.Patch("/{id}/cancel", h.CancelTransfer)
			})

			r.Route("/products", func(r chi.Router) {
				r.Post("/", h.CreateProduct)
				r.Get("/", h.ListProducts)
				r.Get("/{id}", h.GetProduct)
				r.Patch("/{id}", h.PatchProduct)
				r.Delete("/{id}", h.DeleteProduct)
				r.Get("/{id}/history", h.ProductHistory)
			})

			r.Get("/locations", h.ListLocations)
			r.Get("/incomes", h.ListIncomes)
			r.Get("/activity", h.ListActivity)
			r.Get("/alerts", h.Alerts)
		})
	})

	return r
}
