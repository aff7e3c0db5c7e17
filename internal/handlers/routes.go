package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the listing and draft endpoints on api.
// uploadLimit guards the routes that accept image files.
func RegisterRoutes(api *gin.RouterGroup, listingHandler *ListingHandler, draftHandler *DraftHandler, uploadLimit gin.HandlerFunc) {
	listings := api.Group("/listings")
	{
		listings.POST("", listingHandler.Create)
		listings.GET("/:id", listingHandler.Get)
		listings.POST("/:id/images", listingHandler.SubmitImages)
	}

	drafts := api.Group("/drafts")
	{
		drafts.POST("", draftHandler.Open)
		drafts.GET("/:id", draftHandler.Get)
		drafts.DELETE("/:id", draftHandler.Discard)
		drafts.POST("/:id/images", uploadLimit, draftHandler.AddImages)
		drafts.DELETE("/:id/images/new/*ref", draftHandler.RemoveNewImage)
		drafts.PUT("/:id/images/meta", draftHandler.UpdateMeta)
		drafts.POST("/:id/deletions/:imageId", draftHandler.MarkForDeletion)
		drafts.DELETE("/:id/deletions/:imageId", draftHandler.UnmarkForDeletion)
		drafts.PUT("/:id/feature", draftHandler.SetFeature)
		drafts.GET("/:id/submission", draftHandler.Preview)
		drafts.POST("/:id/submit", draftHandler.Submit)
	}
}
