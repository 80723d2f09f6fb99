package chain

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// mockSource is a mock implementation of the Source interface for use in
// tests.
type mockSource struct {
	mock.Mock
}

var _ Source = (*mockSource)(nil)

func (m *mockSource) GetTransaction(_ context.Context, txid string) (
	*TxInfo, error) {

	args := m.Called(txid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*TxInfo), args.Error(1)
}

func (m *mockSource) GetRawTransaction(_ context.Context, txid string) (
	string, error) {

	args := m.Called(txid)
	return args.String(0), args.Error(1)
}

func (m *mockSource) BroadcastTransaction(_ context.Context,
	rawHex string) (string, error) {

	args := m.Called(rawHex)
	return args.String(0), args.Error(1)
}

func (m *mockSource) TipHeight(_ context.Context) (int32, error) {
	args := m.Called()
	return args.Get(0).(int32), args.Error(1)
}
