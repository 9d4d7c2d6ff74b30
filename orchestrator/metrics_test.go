package orchestrator

import (
	"context"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	escrow "github.com/tripartite/escrow"
	"github.com/tripartite/escrow/devchain"
	"github.com/tripartite/escrow/signer"
)

func TestMetrics_Attach(t *testing.T) {
	chain := devchain.New()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	o, err := New(chain, Config{
		Bytecode:     devchain.Bytecode,
		PollInterval: time.Millisecond,
		Logger:       logrus.NewEntry(logger),
	})
	require.NoError(t, err)
	metrics := NewMetrics()
	metrics.Attach(o)

	arbiter, _ := signer.Generate()
	payer, _ := signer.Generate()
	beneficiary, _ := signer.Generate()
	oneEther, _ := escrow.ParseEther("1")
	for _, id := range []*signer.KeySigner{arbiter, payer} {
		chain.Fund(id.Address(), new(big.Int).Mul(oneEther, big.NewInt(10)))
	}

	ctx := context.Background()
	deployed, err := o.Deploy(ctx, arbiter, payer.Address(), beneficiary.Address(), []string{"A"})
	require.NoError(t, err)
	_, err = o.Deposit(ctx, payer, deployed.Agreement, oneEther)
	require.NoError(t, err)
	_, err = o.Deposit(ctx, payer, deployed.Agreement, oneEther)
	require.ErrorIs(t, err, escrow.ErrInvalidState)

	deploy := string(escrow.OpDeploy)
	deposit := string(escrow.OpDeposit)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.submissions.WithLabelValues(deploy, "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.submissions.WithLabelValues(deposit, "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.submissions.WithLabelValues(deposit, string(escrow.KindStateConflict))))
	assert.Equal(t, float64(deployed.GasUsed), testutil.ToFloat64(metrics.gasUsed.WithLabelValues(deploy)))
	// one latency series per confirmed operation kind
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.confirmation))
}
