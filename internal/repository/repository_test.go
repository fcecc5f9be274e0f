package repository

import (
	"commercebot/internal/entities"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildCart(t *testing.T) {
	cart := buildCart([]entities.CartLine{
		{ItemID: "i1", Name: "Nasi Goreng", Quantity: 2, Price: 25000},
		{ItemID: "i2", Name: "Es Teh", Quantity: 1, Price: 5000},
	}, "")
	require.Equal(t, 55000.0, cart.Total)
	require.Equal(t, "IDR", cart.Currency)

	empty := buildCart(nil, "USD")
	require.NotNil(t, empty.Lines)
	require.Zero(t, empty.Total)
	require.Equal(t, "USD", empty.Currency)
}

func TestDecodeFlow(t *testing.T) {
	flow, err := decodeFlow("bot-1",
		[]byte(`{"nodes":[{"id":"t","type":"trigger","data":{"message":"Hi"}}],"edges":[]}`),
		[]byte(`{"flowEnabled":true,"aiResponseEnabled":false,"restartTimeoutMinutes":30}`))
	require.NoError(t, err)
	require.True(t, flow.Active())
	require.Equal(t, 30, flow.Settings.RestartTimeoutMinutes)
	require.Equal(t, "Hi", flow.Graph.Nodes[0].Data.Message)

	flow, err = decodeFlow("bot-1", []byte("null"), []byte(`{"flowEnabled":true}`))
	require.NoError(t, err)
	require.Nil(t, flow.Graph)
	require.False(t, flow.Active())

	_, err = decodeFlow("bot-1", []byte(`{"nodes":`), nil)
	require.Error(t, err)
}
