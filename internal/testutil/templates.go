package testutil

import (
	"sync"

	"github.com/dalemusser/axiom/internal/app/resources"
	"github.com/dalemusser/waffle/pantry/templates"
	"go.uber.org/zap"
)

var (
	bootOnce sync.Once
	bootErr  error
)

// BootTemplatesOnce installs a template engine holding the shared layout and
// every feature template registered so far. Feature packages register their
// templates in init, so importing the package under test is enough.
// Only the first call boots; later calls return the first result.
func BootTemplatesOnce() error {
	bootOnce.Do(func() {
		resources.LoadSharedTemplates()

		logger := zap.NewNop()
		eng := templates.New(false)
		if bootErr = eng.Boot(logger); bootErr == nil {
			templates.UseEngine(eng, logger)
		}
	})
	return bootErr
}

// MustBootTemplates is BootTemplatesOnce for tests: it stops the test on
// error.
//
//	func TestShowLogin(t *testing.T) {
//		testutil.MustBootTemplates(t)
//		...
//	}
func MustBootTemplates(t interface{ Fatalf(string, ...any) }) {
	if err := BootTemplatesOnce(); err != nil {
		t.Fatalf("boot templates: %v", err)
	}
}
