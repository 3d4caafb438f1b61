package simulator

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	cameraWidth    = 640
	cameraHeight   = 480
	cameraChannels = 3
	// probability that an image generation refreshes the frame buffer
	cameraRefresh = 0.3

	pointCloudSize = 800
)

type Stamp struct {
	Secs  int64 `json:"secs"`
	Nsecs int64 `json:"nsecs"`
}

type Header struct {
	FrameID string `json:"frame_id"`
	Stamp   Stamp  `json:"stamp"`
}

func newHeader(frameID string, now time.Time) Header {
	ms := now.UnixMilli()
	return Header{
		FrameID: frameID,
		Stamp:   Stamp{Secs: ms / 1000, Nsecs: (ms % 1000) * int64(time.Millisecond)},
	}
}

type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Float64Msg struct {
	Value float64 `json:"value"`
}

type LogMsg struct {
	Level int    `json:"level"`
	Name  string `json:"name"`
	Msg   string `json:"msg"`
}

type StringMsg struct {
	Data string `json:"data"`
}

type PointCloudMsg struct {
	Points []Point `json:"points"`
}

var poseCovariance = [36]float64{
	0.1, 0, 0, 0, 0, 0,
	0, 0.1, 0, 0, 0, 0,
	0, 0, 0.1, 0, 0, 0,
	0, 0, 0, 0.05, 0, 0,
	0, 0, 0, 0, 0.05, 0,
	0, 0, 0, 0, 0, 0.1,
}

type PoseWithCovariance struct {
	Pose struct {
		Position    Point      `json:"position"`
		Orientation Quaternion `json:"orientation"`
	} `json:"pose"`
	Covariance [36]float64 `json:"covariance"`
}

type TwistWithCovariance struct {
	Twist struct {
		Linear  Point `json:"linear"`
		Angular Point `json:"angular"`
	} `json:"twist"`
	Covariance [36]float64 `json:"covariance"`
}

type OdometryMsg struct {
	Header       Header              `json:"header"`
	ChildFrameID string              `json:"child_frame_id"`
	Pose         PoseWithCovariance  `json:"pose"`
	Twist        TwistWithCovariance `json:"twist"`
}

type LaserScanMsg struct {
	Header         Header    `json:"header"`
	AngleMin       float64   `json:"angle_min"`
	AngleMax       float64   `json:"angle_max"`
	AngleIncrement float64   `json:"angle_increment"`
	TimeIncrement  float64   `json:"time_increment"`
	ScanTime       float64   `json:"scan_time"`
	RangeMin       float64   `json:"range_min"`
	RangeMax       float64   `json:"range_max"`
	Ranges         []float64 `json:"ranges"`
	Intensities    []float64 `json:"intensities"`
}

type BatteryStateMsg struct {
	Header                Header    `json:"header"`
	Voltage               float64   `json:"voltage"`
	Current               float64   `json:"current"`
	Charge                float64   `json:"charge"`
	Capacity              float64   `json:"capacity"`
	DesignCapacity        float64   `json:"design_capacity"`
	Percentage            float64   `json:"percentage"`
	PowerSupplyStatus     int       `json:"power_supply_status"`
	PowerSupplyHealth     int       `json:"power_supply_health"`
	PowerSupplyTechnology int       `json:"power_supply_technology"`
	Present               bool      `json:"present"`
	CellVoltage           []float64 `json:"cell_voltage"`
	Location              string    `json:"location"`
	SerialNumber          string    `json:"serial_number"`
}

type ImuMsg struct {
	Header                       Header     `json:"header"`
	Orientation                  Quaternion `json:"orientation"`
	OrientationCovariance        [9]float64 `json:"orientation_covariance"`
	AngularVelocity              Point      `json:"angular_velocity"`
	AngularVelocityCovariance    [9]float64 `json:"angular_velocity_covariance"`
	LinearAcceleration           Point      `json:"linear_acceleration"`
	LinearAccelerationCovariance [9]float64 `json:"linear_acceleration_covariance"`
}

type ImageMsg struct {
	Header      Header `json:"header"`
	Height      int    `json:"height"`
	Width       int    `json:"width"`
	Encoding    string `json:"encoding"`
	IsBigendian int    `json:"is_bigendian"`
	Step        int    `json:"step"`
	Data        string `json:"data"`
}

type TwistMsg struct {
	Linear  Point `json:"linear"`
	Angular Point `json:"angular"`
}

func diag3(v float64) [9]float64 {
	return [9]float64{v, 0, 0, 0, v, 0, 0, 0, v}
}

func (r *Robot) SensorData() any {
	now := r.clock.Now()
	return Float64Msg{Value: (math.Sin(float64(now.UnixMilli())/250)*0.5 + 0.5) * 100}
}

func (r *Robot) Rosout() any {
	now := r.clock.Now()
	return LogMsg{
		Level: 2,
		Name:  fmt.Sprintf("%s_node", r.name),
		Msg:   fmt.Sprintf("[%s] Log @ %s", r.name, now.Format(time.TimeOnly)),
	}
}

func (r *Robot) Chatter() any {
	return StringMsg{Data: fmt.Sprintf("Hello from %s @ %s", r.name, r.clock.Now().Format(time.TimeOnly))}
}

func (r *Robot) VelodynePoints() any {
	points := make([]Point, pointCloudSize)
	r.noiseMu.Lock()
	for i := range points {
		angle := r.noise.Float64() * 2 * math.Pi
		radius := r.noise.Float64() * 5
		height := (r.noise.Float64() - 0.5) * 2
		points[i] = Point{X: math.Cos(angle) * radius, Y: height, Z: math.Sin(angle) * radius}
	}
	r.noiseMu.Unlock()
	return PointCloudMsg{Points: points}
}

func (r *Robot) Odometry() any {
	s := r.Kinematics()
	msg := OdometryMsg{
		Header:       newHeader("odom", r.clock.Now()),
		ChildFrameID: "base_footprint",
	}
	msg.Pose.Pose.Position = Point{X: s.Pose.X, Y: s.Pose.Y}
	msg.Pose.Pose.Orientation = Quaternion{Z: math.Sin(s.Pose.Theta / 2), W: math.Cos(s.Pose.Theta / 2)}
	msg.Pose.Covariance = poseCovariance
	msg.Twist.Twist.Linear = Point{X: s.Velocity.VX, Y: s.Velocity.VY}
	msg.Twist.Twist.Angular = Point{Z: s.Velocity.VTheta}
	msg.Twist.Covariance = poseCovariance
	return msg
}

func (r *Robot) LaserScan() any {
	s := r.Snapshot()
	msg := LaserScanMsg{
		Header:         newHeader("laser", r.clock.Now()),
		AngleMin:       0,
		AngleMax:       2 * math.Pi,
		AngleIncrement: 2 * math.Pi / ScanPoints,
		ScanTime:       r.tick.Seconds(),
		RangeMin:       ScanRangeMin,
		RangeMax:       ScanRangeMax,
		Ranges:         make([]float64, len(s.Scan)),
		Intensities:    make([]float64, len(s.Scan)),
	}
	for i, p := range s.Scan {
		msg.Ranges[i] = p.Range
		msg.Intensities[i] = p.Intensity
	}
	return msg
}

func (r *Robot) BatteryState() any {
	s := r.Kinematics()
	r.noiseMu.Lock()
	current := -5.5 + r.noise.Float64()*2
	r.noiseMu.Unlock()

	status := 1 // discharging
	if s.Battery > 30 {
		status = 2
	}
	return BatteryStateMsg{
		Header:                newHeader("battery", r.clock.Now()),
		Voltage:               11.8 + (s.Battery/100)*0.3,
		Current:               current,
		Charge:                s.Battery,
		Capacity:              100,
		DesignCapacity:        100,
		Percentage:            math.Max(BatteryFloor, s.Battery),
		PowerSupplyStatus:     status,
		PowerSupplyHealth:     2,
		PowerSupplyTechnology: 3,
		Present:               true,
		CellVoltage:           []float64{3.8, 3.85, 3.88, 3.87},
		Location:              fmt.Sprintf("%s_battery", r.name),
		SerialNumber:          fmt.Sprintf("BAT-%s", r.id),
	}
}

func (r *Robot) Imu() any {
	s := r.Kinematics()
	return ImuMsg{
		Header:                       newHeader("imu_link", r.clock.Now()),
		Orientation:                  Quaternion{X: math.Sin(s.Pose.Theta / 4), W: math.Cos(s.Pose.Theta / 4)},
		OrientationCovariance:        diag3(0.0025),
		AngularVelocity:              Point{X: s.IMU.GyroX, Y: s.IMU.GyroY, Z: s.IMU.GyroZ},
		AngularVelocityCovariance:    diag3(0.0009),
		LinearAcceleration:           Point{X: s.IMU.AccX, Y: s.IMU.AccY, Z: s.IMU.AccZ},
		LinearAccelerationCovariance: diag3(0.0225),
	}
}

func (r *Robot) CameraImage() any {
	r.noiseMu.Lock()
	if r.camera == "" || r.noise.Float64() < cameraRefresh {
		r.camera = r.renderCameraLocked()
	}
	data := r.camera
	r.noiseMu.Unlock()

	return ImageMsg{
		Header:   newHeader("camera_rgb_optical_frame", r.clock.Now()),
		Height:   cameraHeight,
		Width:    cameraWidth,
		Encoding: "rgb8",
		Step:     cameraWidth * cameraChannels,
		Data:     data,
	}
}

// renderCameraLocked fills a random rgb8 frame. noiseMu must be held.
func (r *Robot) renderCameraLocked() string {
	buf := make([]byte, cameraWidth*cameraHeight*cameraChannels)
	for i := 0; i+8 <= len(buf); i += 8 {
		binary.LittleEndian.PutUint64(buf[i:], r.noise.Uint64())
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// CommandedTwist reports the current commanded velocity as a Twist.
func (r *Robot) CommandedTwist() any {
	s := r.Kinematics()
	return TwistMsg{
		Linear:  Point{X: s.Velocity.VX, Y: s.Velocity.VY},
		Angular: Point{Z: s.Velocity.VTheta},
	}
}
