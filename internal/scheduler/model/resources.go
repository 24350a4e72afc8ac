package model

import (
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/api/resource"
)

// Resources is an amount of cluster capacity. RAM is measured in bytes, CPU in whole cores and GPU in devices.
type Resources struct {
	RAM int64 `json:"ram"`
	CPU int64 `json:"cpu"`
	GPU int64 `json:"gpu"`
}

func (r Resources) Add(other Resources) Resources {
	return Resources{
		RAM: r.RAM + other.RAM,
		CPU: r.CPU + other.CPU,
		GPU: r.GPU + other.GPU,
	}
}

func (r Resources) Sub(other Resources) Resources {
	return Resources{
		RAM: r.RAM - other.RAM,
		CPU: r.CPU - other.CPU,
		GPU: r.GPU - other.GPU,
	}
}

// Fits returns true if r is no larger than capacity in every dimension.
func (r Resources) Fits(capacity Resources) bool {
	return r.RAM <= capacity.RAM && r.CPU <= capacity.CPU && r.GPU <= capacity.GPU
}

// Exceeds returns true if r is larger than limit in at least one dimension.
func (r Resources) Exceeds(limit Resources) bool {
	return !r.Fits(limit)
}

func (r Resources) IsNegative() bool {
	return r.RAM < 0 || r.CPU < 0 || r.GPU < 0
}

func (r Resources) IsZero() bool {
	return r == Resources{}
}

func (r Resources) String() string {
	return fmt.Sprintf("{ram: %s, cpu: %d, gpu: %d}", FormatRam(r.RAM), r.CPU, r.GPU)
}

// ParseRam converts a quantity such as "16Gi" or "512M" into bytes.
func ParseRam(s string) (int64, error) {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid ram quantity %q", s)
	}
	return q.Value(), nil
}

// FormatRam renders bytes using binary suffixes where they are exact.
func FormatRam(bytes int64) string {
	return resource.NewQuantity(bytes, resource.BinarySI).String()
}
