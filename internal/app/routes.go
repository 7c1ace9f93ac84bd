package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	appmiddleware "github.com/metinatakli/paygate/internal/middleware"
	"github.com/riandyrn/otelchi"
)

func (app *Application) Routes() http.Handler {
	r := chi.NewRouter()

	r.NotFound(appmiddleware.NotFoundHandler)
	r.MethodNotAllowed(appmiddleware.MethodNotAllowedHandler)

	r.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(r)))
	r.Use(middleware.Logger)
	r.Use(middleware.RequestID)
	r.Use(appmiddleware.RecoverPanic(app.logger))

	r.Get("/healthcheck", app.healthcheck.GetHealth)

	r.Post("/webhooks/{driver}", app.HandleWebhook)

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", app.CreatePayment)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.GetPayment)
			r.Post("/refunds", app.CreateRefund)
			r.Post("/capture", app.CapturePayment)
			r.Post("/cancel", app.CancelPayment)
			r.Post("/confirm-transfer", app.ConfirmTransfer)
			r.Post("/confirm-delivery", app.ConfirmDelivery)
		})
	})

	return r
}
