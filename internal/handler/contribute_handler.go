package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/fundledger/internal/logic"
	"github.com/blues/fundledger/internal/middleware"
	"github.com/gin-gonic/gin"
)

// ContributeHandler 捐款处理器
type ContributeHandler struct {
	fundingLogic *logic.FundingLogic
}

// NewContributeHandler 创建捐款处理器
func NewContributeHandler(fundingLogic *logic.FundingLogic) *ContributeHandler {
	return &ContributeHandler{
		fundingLogic: fundingLogic,
	}
}

// Donate 认捐: 占用额度并返回待签名交易
func (h *ContributeHandler) Donate(c *gin.Context) {
	var req DonateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数格式错误")
		return
	}

	intent, err := h.fundingLogic.Donate(c.Request.Context(), middleware.Principal(c), c.Param("id"), req.Amount)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, DonateResponse{
		Success:      true,
		Message:      "认捐成功，请在钱包中完成支付",
		Transaction:  intent.Transaction,
		Contribution: ToContributionResponse(intent.Contribution),
		Amount:       intent.Amount,
		PlatformFees: intent.PlatformFees,
		TotalAmount:  intent.TotalAmount,
	})
}

// Confirm 提交链上交易哈希完成捐款
func (h *ContributeHandler) Confirm(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数格式错误")
		return
	}

	record, err := h.fundingLogic.Confirm(c.Request.Context(), middleware.Principal(c), c.Param("id"), logic.ConfirmRequest{
		ContributionId:  req.ContributionID,
		Amount:          req.Amount,
		PlatformFees:    req.PlatformFees,
		TotalAmount:     req.TotalAmount,
		TransactionHash: req.TransactionHash,
	})
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "捐款已确认", ToContributionResponse(record))
}

// Cancel 取消未确认的认捐
func (h *ContributeHandler) Cancel(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "无效的捐款ID")
		return
	}

	record, err := h.fundingLogic.Cancel(c.Request.Context(), middleware.Principal(c), id)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "认捐已取消", ToContributionResponse(record))
}
