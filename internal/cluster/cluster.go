// Package cluster groups the machines scheduled together with the green
// power series that feeds them.
package cluster

import (
	"github.com/pkg/errors"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/energy"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/machine"
)

// Cluster is one scheduling target.
type Cluster struct {
	ID       string
	Power    energy.PowerSeries
	Machines []*machine.Machine
}

// New returns a cluster with idle machines of the given core counts, in the
// order given.
func New(id string, power energy.PowerSeries, machines ...MachineSpec) (*Cluster, error) {
	if err := power.Validate(); err != nil {
		return nil, errors.Wrapf(err, "cluster %s", id)
	}
	if len(machines) == 0 {
		return nil, errors.Errorf("cluster %s has no machines", id)
	}
	c := &Cluster{ID: id, Power: power}
	seen := make(map[string]bool, len(machines))
	for _, spec := range machines {
		if spec.Cores < 1 {
			return nil, errors.Errorf("cluster %s: machine %s needs at least one core", id, spec.ID)
		}
		if seen[spec.ID] {
			return nil, errors.Errorf("cluster %s: duplicate machine %s", id, spec.ID)
		}
		seen[spec.ID] = true
		c.Machines = append(c.Machines, machine.New(spec.ID, spec.Cores))
	}
	return c, nil
}

// MachineSpec describes one machine of a cluster.
type MachineSpec struct {
	ID    string `yaml:"id" json:"id"`
	Cores int    `yaml:"cores" json:"cores"`
}

// Clone returns a cluster sharing nothing mutable with c.
func (c *Cluster) Clone() *Cluster {
	out := &Cluster{
		ID: c.ID,
		Power: energy.PowerSeries{
			Interval: c.Power.Interval,
			Values:   append([]float64(nil), c.Power.Values...),
		},
		Machines: make([]*machine.Machine, len(c.Machines)),
	}
	for i, m := range c.Machines {
		out.Machines[i] = m.Clone()
	}
	return out
}

// Cores maps machine id to core count.
func (c *Cluster) Cores() map[string]int {
	cores := make(map[string]int, len(c.Machines))
	for _, m := range c.Machines {
		cores[m.ID] = m.Cores
	}
	return cores
}

// TotalCores returns the number of cores over all machines.
func (c *Cluster) TotalCores() int {
	total := 0
	for _, m := range c.Machines {
		total += m.Cores
	}
	return total
}

// Machine returns the machine with the given id.
func (c *Cluster) Machine(id string) (*machine.Machine, bool) {
	for _, m := range c.Machines {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}
