package melcloud

// Setting is one name/value pair of a unit as reported by the API.
type Setting struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Capabilities describes what a unit supports. It arrives with every
// snapshot and is treated as constant for the unit's lifetime.
type Capabilities struct {
	IsMultiSplitSystem          bool    `json:"isMultiSplitSystem"`
	IsLegacyDevice              bool    `json:"isLegacyDevice"`
	HasStandby                  bool    `json:"hasStandby"`
	HasCoolOperationMode        bool    `json:"hasCoolOperationMode"`
	HasHeatOperationMode        bool    `json:"hasHeatOperationMode"`
	HasAutoOperationMode        bool    `json:"hasAutoOperationMode"`
	HasDryOperationMode         bool    `json:"hasDryOperationMode"`
	HasAutomaticFanSpeed        bool    `json:"hasAutomaticFanSpeed"`
	HasAirDirection             bool    `json:"hasAirDirection"`
	HasSwing                    bool    `json:"hasSwing"`
	HasExtendedTemperatureRange bool    `json:"hasExtendedTemperatureRange"`
	HasEnergyConsumedMeter      bool    `json:"hasEnergyConsumedMeter"`
	NumberOfFanSpeeds           int     `json:"numberOfFanSpeeds"`
	MinTempCoolDry              float64 `json:"minTempCoolDry"`
	MaxTempCoolDry              float64 `json:"maxTempCoolDry"`
	MinTempHeat                 float64 `json:"minTempHeat"`
	MaxTempHeat                 float64 `json:"maxTempHeat"`
	MinTempAutomatic            float64 `json:"minTempAutomatic"`
	MaxTempAutomatic            float64 `json:"maxTempAutomatic"`
	HasDemandSideControl        bool    `json:"hasDemandSideControl"`
	HasHalfDegreeIncrements     bool    `json:"hasHalfDegreeIncrements"`
	SupportsWideVane            bool    `json:"supportsWideVane"`
}

// TemperatureRange is a closed interval of allowed setpoints.
type TemperatureRange struct {
	Min float64
	Max float64
}

func (r TemperatureRange) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Range returns the setpoint bounds for a mode, falling back to common
// indoor-unit limits when the capability block leaves them unset.
func (c Capabilities) Range(mode Mode) TemperatureRange {
	pick := func(lo, hi, defLo, defHi float64) TemperatureRange {
		if lo <= 0 || hi <= 0 || lo >= hi {
			return TemperatureRange{Min: defLo, Max: defHi}
		}
		return TemperatureRange{Min: lo, Max: hi}
	}
	switch mode {
	case ModeHeat:
		return pick(c.MinTempHeat, c.MaxTempHeat, 10, 31)
	case ModeAuto:
		return pick(c.MinTempAutomatic, c.MaxTempAutomatic, 16, 31)
	default:
		return pick(c.MinTempCoolDry, c.MaxTempCoolDry, 16, 31)
	}
}

// Step is the setpoint granularity.
func (c Capabilities) Step() float64 {
	if c.HasHalfDegreeIncrements {
		return 0.5
	}
	return 1
}

// FanSpeeds is the number of discrete fan speeds, at most five.
func (c Capabilities) FanSpeeds() int {
	switch {
	case c.NumberOfFanSpeeds < 0:
		return 0
	case c.NumberOfFanSpeeds > int(FanSpeedFive):
		return int(FanSpeedFive)
	default:
		return c.NumberOfFanSpeeds
	}
}

type wireUnit struct {
	ID                           string       `json:"id"`
	GivenDisplayName             string       `json:"givenDisplayName"`
	DisplayIcon                  string       `json:"displayIcon"`
	Settings                     []Setting    `json:"settings"`
	Capabilities                 Capabilities `json:"capabilities"`
	RSSI                         int          `json:"rssi"`
	IsConnected                  bool         `json:"isConnected"`
	ConnectedInterfaceIdentifier string       `json:"connectedInterfaceIdentifier"`
	SystemID                     string       `json:"systemId"`
	IsInError                    bool         `json:"isInError"`
}

type wireBuilding struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Timezone      string     `json:"timezone"`
	AirToAirUnits []wireUnit `json:"airToAirUnits"`
}

type wireContext struct {
	ID        string         `json:"id"`
	Buildings []wireBuilding `json:"buildings"`
}

// Command is the PUT body of a unit command. Nil fields are sent as JSON
// null, which the API reads as "leave unchanged".
type Command struct {
	Power                        *bool    `json:"power"`
	OperationMode                *string  `json:"operationMode"`
	SetFanSpeed                  *string  `json:"setFanSpeed"`
	VaneHorizontalDirection      *string  `json:"vaneHorizontalDirection"`
	VaneVerticalDirection        *string  `json:"vaneVerticalDirection"`
	SetTemperature               *float64 `json:"setTemperature"`
	TemperatureIncrementOverride *float64 `json:"temperatureIncrementOverride"`
	InStandbyMode                *bool    `json:"inStandbyMode"`
}
