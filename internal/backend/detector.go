package backend

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"github.com/nuetzliches/beanbridge/internal/bean"
)

// Detector inspects the live registry set and identifies the hosting
// product. Detectors may also contribute additional registries to the
// merged set before detection runs.
type Detector interface {
	Name() string

	// Detect returns the handle for the product it recognizes, or nil.
	Detect(servers []bean.Registry) *ServerHandle

	// ContributeRegistries returns side registries the product exposes
	// outside the platform registry. Failures are logged and swallowed;
	// startup never aborts on a detector.
	ContributeRegistries() ([]bean.Registry, error)
}

// DetectorConstructor builds a named extra detector. Extras are
// registered by name at build time and instantiated from configuration.
type DetectorConstructor func() Detector

var extraDetectors = map[string]DetectorConstructor{}

// RegisterDetector adds a detector constructor to the registration table.
func RegisterDetector(name string, ctor DetectorConstructor) {
	extraDetectors[name] = ctor
}

// LookupDetector resolves a configured extra detector by name.
func LookupDetector(name string) (DetectorConstructor, bool) {
	ctor, ok := extraDetectors[name]
	return ctor, ok
}

// bundledDetectors returns the built-in chain, consulted in order before
// any configured extras.
func bundledDetectors() []Detector {
	return []Detector{&goRuntimeDetector{}}
}

// BuildDetectors assembles the full ordered chain: bundled first, then the
// configured extras. Unknown names are an error.
func BuildDetectors(extraNames []string) ([]Detector, error) {
	chain := bundledDetectors()
	for _, name := range extraNames {
		ctor, ok := LookupDetector(name)
		if !ok {
			known := make([]string, 0, len(extraDetectors))
			for k := range extraDetectors {
				known = append(known, k)
			}
			sort.Strings(known)
			return nil, fmt.Errorf("unknown detector %q (registered: %v)", name, known)
		}
		chain = append(chain, ctor())
	}
	return chain, nil
}

// RunDetectors asks each detector for contributed registries and then for
// a handle. The first non-nil handle wins; if none match, a generic handle
// with an empty product is used.
func RunDetectors(chain []Detector, servers *Registries, log *slog.Logger) *ServerHandle {
	for _, d := range chain {
		contributed, err := d.ContributeRegistries()
		if err != nil {
			log.Error("detector_contribution_failed", slog.String("detector", d.Name()), slog.Any("err", err))
			continue
		}
		for _, r := range contributed {
			servers.Add(r)
		}
	}
	snapshot := servers.Snapshot()
	for _, d := range chain {
		if handle := d.Detect(snapshot); handle != nil {
			return handle
		}
	}
	return &ServerHandle{Vendor: "", Product: "", Version: ""}
}

// goRuntimeDetector recognizes the plain Go runtime by the presence of the
// built-in go.runtime beans.
type goRuntimeDetector struct{}

func (d *goRuntimeDetector) Name() string { return "go-runtime" }

func (d *goRuntimeDetector) Detect(servers []bean.Registry) *ServerHandle {
	pattern := bean.MustParseName("go.runtime:type=*")
	for _, r := range servers {
		if len(r.QueryNames(pattern)) > 0 {
			return &ServerHandle{
				Vendor:  "golang",
				Product: "go-runtime",
				Version: runtime.Version(),
			}
		}
	}
	return nil
}

func (d *goRuntimeDetector) ContributeRegistries() ([]bean.Registry, error) {
	return nil, nil
}
