package common

import (
	"fmt"
	"strings"
)

type CachePrefix int

const (
	latestValue CachePrefix = iota // 0
)

const cacheKeyFormat = "%d-latest:%s"
const robotStateSubjFormat = "robot.%s.state"
const robotCommandSubjFormat = "robot.%s.command"

// LatestValueCacheKey is the hash key holding the latest value per topic for a robot.
func LatestValueCacheKey(robot RobotID) string {
	return fmt.Sprintf(cacheKeyFormat, latestValue, robot)
}

func RobotStateSubj(robot RobotID) string {
	return fmt.Sprintf(robotStateSubjFormat, robot)
}

func RobotCommandSubj(robot RobotID) string {
	return fmt.Sprintf(robotCommandSubjFormat, robot)
}

// TopicToken flattens a topic path into a single identifier token:
// "/camera/rgb/image_raw" becomes "camera_rgb_image_raw".
func TopicToken(topic TopicName) string {
	return strings.ReplaceAll(strings.TrimPrefix(string(topic), "/"), "/", "_")
}

const RateEnvPrefix = "MOCK_RATE_"
const RateEnvDefault = RateEnvPrefix + "DEFAULT"

// RateEnvKey is the environment variable overriding the nominal rate of a topic.
func RateEnvKey(topic TopicName) string {
	return RateEnvPrefix + strings.ToUpper(TopicToken(topic))
}

const (
	TopicSensorData     TopicName = "/sensor_data"
	TopicRosout         TopicName = "/rosout"
	TopicChatter        TopicName = "/chatter"
	TopicVelodynePoints TopicName = "/velodyne_points"
	TopicOdom           TopicName = "/odom"
	TopicScan           TopicName = "/scan"
	TopicBatteryState   TopicName = "/battery_state"
	TopicImu            TopicName = "/imu"
	TopicCameraRGB      TopicName = "/camera/rgb/image_raw"
	TopicCmdVel         TopicName = "/cmd_vel"
)

// StreamedTopics are the topics every robot delivers periodically.
var StreamedTopics = []TopicName{
	TopicSensorData,
	TopicRosout,
	TopicChatter,
	TopicVelodynePoints,
	TopicOdom,
	TopicScan,
	TopicBatteryState,
	TopicImu,
	TopicCameraRGB,
}

type (
	TopicName string
	RobotID   string
	ConnID    string
)
