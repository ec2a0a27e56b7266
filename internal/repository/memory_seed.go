package repository

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Profiles []struct {
		ID              string             `yaml:"id"`
		FullName        string             `yaml:"full_name"`
		Email           string             `yaml:"email"`
		Role            string             `yaml:"role"`
		Department      string             `yaml:"department"`
		LeadDepartments []string           `yaml:"lead_departments"`
		LeaveBalances   map[string]float64 `yaml:"leave_balances"`
	} `yaml:"profiles"`
}

// LoadSeed fills a memory store with the profiles and leave balances in a
// YAML file and returns the number of profiles loaded.
func (s *MemoryStore) LoadSeed(ctx context.Context, path string) (int, error) {
	// #nosec G304 -- operator-configured path.
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("decode seed file: %w", err)
	}

	for _, p := range f.Profiles {
		if p.ID == "" || p.Role == "" {
			return 0, fmt.Errorf("seed profile %q: id and role are required", p.FullName)
		}
		if err := s.UpsertProfile(ctx, &Profile{
			ID:              p.ID,
			FullName:        p.FullName,
			Email:           p.Email,
			Role:            p.Role,
			Department:      p.Department,
			LeadDepartments: p.LeadDepartments,
		}); err != nil {
			return 0, err
		}
		for leaveType, days := range p.LeaveBalances {
			if err := s.SetLeaveBalance(ctx, p.ID, leaveType, days); err != nil {
				return 0, err
			}
		}
	}
	return len(f.Profiles), nil
}
