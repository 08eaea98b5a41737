package melcloud

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-melcloud/internal/host"
	"github.com/joshp123/gohome-melcloud/internal/rpc"
)

const ServiceName = "gohome.plugins.melcloud.v1.MelcloudService"

// UnitInfo is the wire view of one unit.
type UnitInfo struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Building           string   `json:"building,omitempty"`
	Status             string   `json:"status"`
	Connected          bool     `json:"connected"`
	Power              bool     `json:"power"`
	Mode               string   `json:"mode"`
	PendingMode        string   `json:"pending_mode,omitempty"`
	FanSpeed           string   `json:"fan_speed,omitempty"`
	Vane               string   `json:"vane,omitempty"`
	SetTemperature     *float64 `json:"set_temperature,omitempty"`
	RoomTemperature    *float64 `json:"room_temperature,omitempty"`
	HeatingThreshold   *float64 `json:"heating_threshold,omitempty"`
	CoolingThreshold   *float64 `json:"cooling_threshold,omitempty"`
	Verifying          bool     `json:"verifying"`
	FanSpeeds          int      `json:"fan_speeds"`
	HalfDegreeSteps    bool     `json:"half_degree_steps"`
	CurrentState       string   `json:"current_state"`
	CurrentTemperature float64  `json:"current_temperature"`
}

// DispatchRequest carries the optional fields of a unit command.
type DispatchRequest struct {
	UnitID           string   `json:"unit_id"`
	Power            *bool    `json:"power"`
	Mode             *string  `json:"mode"`
	Temperature      *float64 `json:"temperature"`
	FanSpeed         *int     `json:"fan_speed"`
	Vane             *string  `json:"vane"`
	HeatingThreshold *float64 `json:"heating_threshold"`
	CoolingThreshold *float64 `json:"cooling_threshold"`
}

type unitRequest struct {
	UnitID string `json:"unit_id"`
}

type listUnitsResponse struct {
	Units []UnitInfo `json:"units"`
}

type unitResponse struct {
	Unit UnitInfo `json:"unit"`
}

type service struct {
	engine *Engine
}

// RegisterService exposes the engine over gRPC.
func RegisterService(registrar grpc.ServiceRegistrar, engine *Engine) {
	s := &service{engine: engine}
	rpc.Service{
		Name: ServiceName,
		Methods: map[string]rpc.Handler{
			"ListUnits": s.listUnits,
			"GetUnit":   s.getUnit,
			"Dispatch":  s.dispatch,
			"Refresh":   s.refresh,
		},
	}.Register(registrar)
}

func (s *service) listUnits(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.engine == nil {
		return nil, status.Error(codes.Unavailable, "melcloud is not configured")
	}
	resp := listUnitsResponse{Units: []UnitInfo{}}
	for _, v := range s.engine.Snapshots() {
		resp.Units = append(resp.Units, unitInfo(v))
	}
	return rpc.Encode(resp)
}

func (s *service) getUnit(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.engine == nil {
		return nil, status.Error(codes.Unavailable, "melcloud is not configured")
	}
	var in unitRequest
	if err := rpc.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	v, ok := s.engine.Snapshot(in.UnitID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unit %q not found", in.UnitID)
	}
	return rpc.Encode(unitResponse{Unit: unitInfo(v)})
}

func (s *service) dispatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.engine == nil {
		return nil, status.Error(codes.Unavailable, "melcloud is not configured")
	}
	var in DispatchRequest
	if err := rpc.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if in.UnitID == "" {
		return nil, status.Error(codes.InvalidArgument, "unit_id is required")
	}

	patch, err := in.patch()
	if err != nil {
		return nil, statusFromError(err)
	}
	if !patch.Empty() {
		if err := s.engine.Dispatch(ctx, in.UnitID, patch); err != nil {
			return nil, statusFromError(err)
		}
	}
	if in.HeatingThreshold != nil {
		if err := s.engine.SetThreshold(ctx, in.UnitID, ThresholdHeating, *in.HeatingThreshold); err != nil {
			return nil, statusFromError(err)
		}
	}
	if in.CoolingThreshold != nil {
		if err := s.engine.SetThreshold(ctx, in.UnitID, ThresholdCooling, *in.CoolingThreshold); err != nil {
			return nil, statusFromError(err)
		}
	}

	v, ok := s.engine.Snapshot(in.UnitID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unit %q not found", in.UnitID)
	}
	return rpc.Encode(unitResponse{Unit: unitInfo(v)})
}

func (s *service) refresh(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.engine == nil {
		return nil, status.Error(codes.Unavailable, "melcloud is not configured")
	}
	if err := s.engine.Refresh(ctx); err != nil {
		return nil, statusFromError(fmt.Errorf("%w: %w", host.ErrCommunicationFailure, err))
	}
	return s.listUnits(ctx, nil)
}

func (r DispatchRequest) patch() (Patch, error) {
	p := Patch{Power: r.Power, Temperature: r.Temperature}
	if r.Mode != nil {
		mode := ParseMode(*r.Mode)
		if mode == ModeUnknown {
			return Patch{}, fmt.Errorf("%w: mode %q", host.ErrInvalidValue, *r.Mode)
		}
		p.Mode = &mode
	}
	if r.FanSpeed != nil {
		if *r.FanSpeed < int(FanSpeedAuto) || *r.FanSpeed > int(FanSpeedFive) {
			return Patch{}, fmt.Errorf("%w: fan_speed %d", host.ErrInvalidValue, *r.FanSpeed)
		}
		p.FanSpeed = ptr(FanSpeed(*r.FanSpeed))
	}
	if r.Vane != nil {
		pos, ok := ParseVanePosition(*r.Vane)
		if !ok {
			return Patch{}, fmt.Errorf("%w: vane %q", host.ErrInvalidValue, *r.Vane)
		}
		p.Vane = &pos
	}
	return p, nil
}

func statusFromError(err error) error {
	switch {
	case errors.Is(err, ErrUnitNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, host.ErrInvalidValue):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, host.ErrCommunicationFailure):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func unitInfo(v UnitView) UnitInfo {
	s := v.State
	proj := ProjectMain(v)
	info := UnitInfo{
		ID:                 s.ID,
		Name:               s.Name,
		Building:           s.Building,
		Status:             v.Status.String(),
		Connected:          s.Connection.Connected,
		Power:              s.Power(),
		Mode:               string(s.Mode()),
		Verifying:          v.Verifying,
		FanSpeeds:          s.Capabilities.FanSpeeds(),
		HalfDegreeSteps:    s.Capabilities.HasHalfDegreeIncrements,
		CurrentState:       proj.CurrentState.String(),
		CurrentTemperature: proj.CurrentTemperature,
		HeatingThreshold:   v.Thresholds.Heating,
		CoolingThreshold:   v.Thresholds.Cooling,
	}
	if v.PendingMode != nil {
		info.PendingMode = string(*v.PendingMode)
	}
	if speed, ok := s.FanSpeed(); ok {
		info.FanSpeed = speed.String()
	}
	if vane, ok := s.VaneVertical(); ok {
		info.Vane = vane.String()
	}
	if t, ok := s.SetTemperature(); ok {
		info.SetTemperature = &t
	}
	if t, ok := s.RoomTemperature(); ok {
		info.RoomTemperature = &t
	}
	return info
}
