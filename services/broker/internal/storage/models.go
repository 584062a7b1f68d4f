package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for every stored amount.
const Scale = 8

// Round brings an amount to Scale digits, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusMatched   OrderStatus = "MATCHED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to OrderStatus) bool {
	return from == StatusPending && (to == StatusMatched || to == StatusCancelled)
}

type Asset struct {
	CustomerID uuid.UUID
	Name       string
	Size       decimal.Decimal
	Usable     decimal.Decimal
	UpdatedAt  time.Time
}

// Reserved is the part of Size claimed by pending orders.
func (a Asset) Reserved() decimal.Decimal {
	return a.Size.Sub(a.Usable)
}

type Order struct {
	ID         int64
	CustomerID uuid.UUID
	AssetName  string
	Side       OrderSide
	Size       decimal.Decimal
	Price      decimal.Decimal
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type OrderFilter struct {
	CustomerID uuid.UUID
	From       time.Time
	To         time.Time
	Status     OrderStatus
}

type Customer struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}
