package handlers

import (
	"github.com/fatflowers/billsync/internal/app/service/billing"
	nh "github.com/fatflowers/billsync/internal/app/service/notification_handler"
	"github.com/fatflowers/billsync/internal/app/service/reconcile"
	"github.com/fatflowers/billsync/internal/app/service/statistics"
	"github.com/fatflowers/billsync/pkg/response"
	"github.com/fatflowers/billsync/pkg/types"
)

// Envelope types below exist for the generated API docs only.

// RespError is the envelope returned on failures; data is empty.
type RespError struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespCheckout struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    billing.CheckoutResult   `json:"data"`
}

type RespCancel struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    billing.CancelResult     `json:"data"`
}

type RespChangePlan struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    billing.ChangePlanResult `json:"data"`
}

type RespPortal struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    billing.PortalResult     `json:"data"`
}

type RespSubscription struct {
	Code    response.APIResponseCode   `json:"code"`
	Message string                     `json:"message"`
	Data    types.UserSubscriptionInfo `json:"data"`
}

type RespWebhook struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    nh.Result                `json:"data"`
}

type RespReconcile struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    reconcile.Report         `json:"data"`
}

type RespListSubscriptions struct {
	Code    response.APIResponseCode  `json:"code"`
	Message string                    `json:"message"`
	Data    ListSubscriptionsResponse `json:"data"`
}

type RespListPayments struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ListPaymentsResponse     `json:"data"`
}

type RespStatistic struct {
	Code    response.APIResponseCode     `json:"code"`
	Message string                       `json:"message"`
	Data    statistics.StatisticResponse `json:"data"`
}

type RespHealth struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    map[string]string        `json:"data"`
}
