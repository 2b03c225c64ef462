package server

import (
	"net/http"

	handler "auction-service/services/bidding/handler"

	"github.com/gin-gonic/gin"
)

// SetupRouter configures all Gin routes for the application
func SetupRouter(biddingService handler.BiddingServiceInterface) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging

	biddingHandler := handler.NewBiddingHandler(biddingService)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auctions := router.Group("/auctions")
	{
		auctions.GET("", biddingHandler.ListAuctionsHandler)
		auctions.GET("/:auction_id", biddingHandler.GetAuctionHandler)
		auctions.GET("/:auction_id/bids", biddingHandler.GetBidsByAuctionHandler)
		auctions.GET("/:auction_id/winning", biddingHandler.GetWinningBidHandler)
	}

	// mutations need an authenticated caller
	authed := auctions.Group("", IdentityMiddleware)
	{
		authed.POST("", biddingHandler.CreateAuctionHandler)
		authed.POST("/:auction_id/bids", biddingHandler.RecordBidHandler)
		authed.POST("/:auction_id/close", biddingHandler.CloseAuctionHandler)
		authed.POST("/:auction_id/cancel", biddingHandler.CancelAuctionHandler)
	}

	bidders := router.Group("/bidders")
	{
		bidders.GET("/:bidder_id/bids", biddingHandler.GetBidsByBidderHandler)
	}

	bids := router.Group("/bids")
	{
		bids.GET("", biddingHandler.ListBidsHandler)
	}

	return router
}
