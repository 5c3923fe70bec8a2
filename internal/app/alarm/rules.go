package alarm

import (
	"fmt"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
)

const (
	Above = "above"
	Below = "below"
)

// Rule is one alarm type's threshold. The threshold is either a fixed
// Absolute value or Offset away from the named Setpoint; both policies are in
// use and are kept per type.
type Rule struct {
	Type      domain.AlarmType `yaml:"type"`
	Field     string           `yaml:"field"`
	Direction string           `yaml:"direction"`
	Absolute  *float64         `yaml:"absolute,omitempty"`
	Setpoint  string           `yaml:"setpoint,omitempty"`
	Offset    float64          `yaml:"offset,omitempty"`
}

// Threshold resolves the rule against the current setpoints. It reports false
// when a relative rule has no setpoint to work from.
func (r Rule) Threshold(setpoints map[string]float64) (float64, bool) {
	if r.Setpoint != "" {
		sp, ok := setpoints[r.Setpoint]
		if !ok {
			return 0, false
		}
		if r.Direction == Below {
			return sp - r.Offset, true
		}
		return sp + r.Offset, true
	}
	if r.Absolute != nil {
		return *r.Absolute, true
	}
	return 0, false
}

// Exceeded compares strictly; a value equal to the threshold is in range.
func (r Rule) Exceeded(value, threshold float64) bool {
	if r.Direction == Below {
		return value < threshold
	}
	return value > threshold
}

func (r Rule) message(value, threshold float64) string {
	return fmt.Sprintf("%s %s %s threshold (%.2f vs %.2f)", r.Type, r.Field, r.Direction, value, threshold)
}

func (r Rule) Validate() error {
	if r.Type == "" || r.Field == "" {
		return fmt.Errorf("alarm rule needs type and field")
	}
	if r.Direction != Above && r.Direction != Below {
		return fmt.Errorf("alarm rule %s: direction must be %q or %q", r.Type, Above, Below)
	}
	if (r.Setpoint == "") == (r.Absolute == nil) {
		return fmt.Errorf("alarm rule %s: set exactly one of absolute or setpoint", r.Type)
	}
	return nil
}

func abs(v float64) *float64 { return &v }

// DefaultRules is the stock threshold table. EC and pH follow the active
// setpoint with a 1.0 band; water temperature and tank level are fixed.
func DefaultRules() []Rule {
	return []Rule{
		{Type: domain.AlarmECHigh, Field: domain.FieldEC, Direction: Above, Setpoint: domain.FieldEC, Offset: 1.0},
		{Type: domain.AlarmECLow, Field: domain.FieldEC, Direction: Below, Setpoint: domain.FieldEC, Offset: 1.0},
		{Type: domain.AlarmPHHigh, Field: domain.FieldPH, Direction: Above, Setpoint: domain.FieldPH, Offset: 1.0},
		{Type: domain.AlarmPHLow, Field: domain.FieldPH, Direction: Below, Setpoint: domain.FieldPH, Offset: 1.0},
		{Type: domain.AlarmWaterTempHigh, Field: domain.FieldWaterTemp, Direction: Above, Absolute: abs(30)},
		{Type: domain.AlarmWaterTempLow, Field: domain.FieldWaterTemp, Direction: Below, Absolute: abs(5)},
		{Type: domain.AlarmTankLevelLow, Field: domain.FieldTankLevel, Direction: Below, Absolute: abs(10)},
	}
}
