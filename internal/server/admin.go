package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	lifecycledomain "github.com/smallbiznis/billmirror/internal/lifecycle/domain"
)

func (s *Server) ResyncCustomer(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	customer, err := s.customerSvc.GetByID(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.lifecycleSvc.Resync(ctx, customer); err != nil {
		AbortWithError(c, err)
		return
	}
	customer, err = s.customerSvc.GetByID(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": customer})
}

func (s *Server) GetEvent(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	detail, err := s.eventSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) RetryEvent(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	event, err := s.eventSvc.Retry(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": event})
}

type retryInvoicesRequest struct {
	CustomerID string `json:"customer_id"`
}

// RetryInvoices retries one customer's unpaid invoices, or every customer's when no id is given.
func (s *Server) RetryInvoices(c *gin.Context) {
	var req retryInvoicesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	customerID, err := parseOptionalSnowflakeID(req.CustomerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	if customerID != nil {
		customer, err := s.customerSvc.GetByID(ctx, *customerID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if err := s.lifecycleSvc.RetryUnpaidInvoices(ctx, customer); err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": lifecycledomain.BulkResult{Total: 1, Succeeded: 1}})
		return
	}

	result, err := s.lifecycleSvc.RetryAllUnpaidInvoices(ctx, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
