package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/addressbook"
	"storefront/internal/models"
)

func GetUserAddresses(book *addressbook.Book) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "ADDRESS")

		userID, ok := identityFrom(c, "ADDRESS")
		if !ok {
			return
		}
		ctx, cancel := requestContext(c)
		defer cancel()

		addresses, err := book.ListAddresses(ctx, userID)
		if err != nil {
			respondWithDomainError(c, "ADDRESS", err)
			return
		}
		if addresses == nil {
			addresses = []models.Address{}
		}
		c.JSON(http.StatusOK, gin.H{"addresses": addresses})
	}
}

func CreateUserAddress(book *addressbook.Book) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "ADDRESS")

		userID, ok := identityFrom(c, "ADDRESS")
		if !ok {
			return
		}
		var req models.AddressFields
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		addr, err := book.AddAddress(ctx, userID, req)
		if err != nil {
			respondWithDomainError(c, "ADDRESS", err)
			return
		}
		c.JSON(http.StatusCreated, addr)
	}
}

func UpdateUserAddress(book *addressbook.Book) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "ADDRESS")

		userID, ok := identityFrom(c, "ADDRESS")
		if !ok {
			return
		}
		var req models.AddressFields
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		addr, err := book.UpdateAddress(ctx, userID, c.Param("id"), req)
		if err != nil {
			respondWithDomainError(c, "ADDRESS", err)
			return
		}
		c.JSON(http.StatusOK, addr)
	}
}
