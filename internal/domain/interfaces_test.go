package domain

import (
	"context"
	"testing"
)

// TestVenueClientInterface verifies the VenueClient contract stays implementable.
func TestVenueClientInterface(t *testing.T) {
	var _ VenueClient = (*mockVenueClient)(nil)
}

// TestSignalSourceInterface verifies the SignalSource contract stays implementable.
func TestSignalSourceInterface(t *testing.T) {
	var _ SignalSource = (*mockSignalSource)(nil)
}

// TestOrderValidatorInterface verifies the OrderValidator contract stays implementable.
func TestOrderValidatorInterface(t *testing.T) {
	var _ OrderValidator = (*mockOrderValidator)(nil)
}

// TestExitAdvisorInterface verifies the ExitAdvisor contract stays implementable.
func TestExitAdvisorInterface(t *testing.T) {
	var _ ExitAdvisor = (*mockExitAdvisor)(nil)
}

// Mock implementations for testing

type mockVenueClient struct{}

func (m *mockVenueClient) SubmitMarketOrder(ctx context.Context, symbol string, side OrderSide, amount float64) (*VenueOrderResult, error) {
	return nil, nil
}

func (m *mockVenueClient) SubmitLimitOrder(ctx context.Context, symbol string, side OrderSide, amount, price float64) (*VenueOrderResult, error) {
	return nil, nil
}

func (m *mockVenueClient) GetOrderStatus(ctx context.Context, orderID string) (*VenueOrderState, error) {
	return nil, nil
}

func (m *mockVenueClient) GetOrderHistory(ctx context.Context, userID string, limit int) ([]VenueOrderState, error) {
	return nil, nil
}

func (m *mockVenueClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	return nil, nil
}

func (m *mockVenueClient) GetCandles(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	return nil, nil
}

func (m *mockVenueClient) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	return nil, nil
}

type mockSignalSource struct{}

func (m *mockSignalSource) Generate(ctx context.Context, agent *Agent, symbol string) (*TradingSignal, error) {
	return nil, nil
}

type mockOrderValidator struct{}

func (m *mockOrderValidator) Validate(ctx context.Context, req *OrderRequest) (*ValidationResult, error) {
	return nil, nil
}

type mockExitAdvisor struct{}

func (m *mockExitAdvisor) AnalyzeExit(ctx context.Context, agent *Agent, position *Position, market *MarketConditions) (*ExitDecision, error) {
	return nil, nil
}