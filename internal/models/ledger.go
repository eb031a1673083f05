package models

import "github.com/shopspring/decimal"

type AccountType string

const (
	AccountRestaurant AccountType = "restaurant"
	AccountDelivery   AccountType = "delivery"
	AccountPlatform   AccountType = "platform"
)

type TransactionType string

const (
	TxOrderRevenue       TransactionType = "ORDER_REVENUE"
	TxPlatformCommission TransactionType = "PLATFORM_COMMISSION"
	TxDeliveryEarning    TransactionType = "DELIVERY_EARNING"
)

type AccountTransaction struct {
	OrderID         string
	AccountType     AccountType
	TransactionType TransactionType
	Amount          decimal.Decimal
}

// RevenueSplit is the per-order distribution recorded once the order is delivered.
type RevenueSplit struct {
	ProductTotal           decimal.Decimal
	PlatformCommission     decimal.Decimal
	RestaurantNet          decimal.Decimal
	DeliveryEarning        decimal.Decimal
	PlatformDeliveryMargin decimal.Decimal
}
