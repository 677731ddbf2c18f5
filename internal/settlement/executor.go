package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/openclear/tradecore/internal/domain"
)

// InProcessExecutor returns an Executor that performs no external
// transfer and mints a reference locally. It is idempotent per
// instruction: repeated calls for the same ID return the same
// reference. Deployments with a real custodian gateway replace it.
func InProcessExecutor() Executor {
	var mu sync.Mutex
	refs := make(map[string]string)
	return ExecutorFunc(func(_ context.Context, si *domain.SettlementInstruction) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if ref, ok := refs[si.ID]; ok {
			return ref, nil
		}
		ref := fmt.Sprintf("xfer-%s", uuid.New().String())
		refs[si.ID] = ref
		return ref, nil
	})
}
