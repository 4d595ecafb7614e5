package handler

import (
	"net/http"

	"exchange/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func SetupRouter(h *Handler, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1", IdentityMiddleware())
	{
		wallet := api.Group("/wallet")
		{
			wallet.GET("", h.GetWallet)
			wallet.POST("/ensure", h.EnsureWallets)
		}

		exchange := api.Group("/exchange")
		{
			exchange.POST("/deposit", h.Deposit)
			exchange.POST("/convert", h.Convert)
		}

		api.POST("/transfers", h.Transfer)

		invoices := api.Group("/invoices")
		{
			invoices.POST("", h.GenerateInvoice)
			invoices.POST("/pay", h.PayInvoice)
		}

		api.GET("/transactions", h.ListTransactions)

		admin := api.Group("/admin", RequireRole(h.svc.Users, model.RoleAdmin))
		{
			admin.PUT("/users/:id/wallet", h.SetBalances)
			admin.GET("/users/:id/fee-income", h.FeeIncome)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
