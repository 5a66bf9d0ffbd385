package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	coupondomain "github.com/hunnyEscape/gaming-cafe-billing/internal/coupon/domain"
)

type issueCouponRequest struct {
	MemberID      string    `json:"member_id"`
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	DiscountValue int64     `json:"discount_value"`
	ValidUntil    time.Time `json:"valid_until"`
}

func (s *Server) IssueCoupon(c *gin.Context) {
	var req issueCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.MemberID) == "" {
		AbortWithError(c, newValidationError("member_id", "required", "member_id is required"))
		return
	}

	// Issuing against an unknown member is a caller mistake, not a 500.
	if _, err := s.memberSvc.GetByID(c.Request.Context(), req.MemberID); err != nil {
		AbortWithError(c, err)
		return
	}

	coupon, err := s.couponSvc.IssueCoupon(c.Request.Context(), coupondomain.IssueCouponRequest{
		MemberID:      req.MemberID,
		Code:          req.Code,
		Name:          req.Name,
		Description:   req.Description,
		DiscountValue: req.DiscountValue,
		ValidUntil:    req.ValidUntil,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "coupon": coupon})
}

func (s *Server) ListMemberCoupons(c *gin.Context) {
	memberID := strings.TrimSpace(c.Param("id"))
	if memberID == "" {
		AbortWithError(c, newValidationError("id", "required", "id is required"))
		return
	}

	coupons, err := s.couponSvc.ListByMember(c.Request.Context(), memberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "coupons": coupons})
}
