package simulator

import (
	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/config"
	"github.com/kychandar/robobridge/services/topics"
)

// TopicTable returns the topics a robot serves, with streamed rates resolved
// against rates. Command-only topics keep a zero rate.
func TopicTable(r *Robot, rates config.RatesConfig) []topics.TopicConfig {
	streamed := func(name common.TopicName, msgType string, hz float64, gen func() any) topics.TopicConfig {
		return topics.TopicConfig{Name: name, Type: msgType, Hz: rates.Resolve(name, hz), Generate: gen}
	}
	return []topics.TopicConfig{
		streamed(common.TopicSensorData, "std_msgs/Float64", 10, r.SensorData),
		streamed(common.TopicRosout, "rosgraph_msgs/Log", 2, r.Rosout),
		streamed(common.TopicChatter, "std_msgs/String", 2, r.Chatter),
		streamed(common.TopicVelodynePoints, "sensor_msgs/PointCloud2", 15, r.VelodynePoints),
		streamed(common.TopicOdom, "nav_msgs/Odometry", 10, r.Odometry),
		streamed(common.TopicScan, "sensor_msgs/LaserScan", 10, r.LaserScan),
		streamed(common.TopicBatteryState, "sensor_msgs/BatteryState", 2, r.BatteryState),
		streamed(common.TopicImu, "sensor_msgs/Imu", 20, r.Imu),
		streamed(common.TopicCameraRGB, "sensor_msgs/Image", 5, r.CameraImage),
		{
			Name:     common.TopicCmdVel,
			Type:     "geometry_msgs/Twist",
			Hz:       0,
			Generate: r.CommandedTwist,
			Apply:    r.ApplyTwist,
		},
	}
}

// NewRegistry builds the registry for one robot.
func NewRegistry(r *Robot, rates config.RatesConfig) (*topics.Registry, error) {
	return topics.New(TopicTable(r, rates)...)
}
