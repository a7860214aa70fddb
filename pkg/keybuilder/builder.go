package keybuilder

import (
	"fmt"
	"github.com/google/uuid"
)

const (
	Redis        string = "redis"
	Notification string = "notification"
	Lock         string = "lock"
	Scheduler    string = "scheduler"
)

// RedisNotificationKeyBuild returns the cache key of a notification.
func RedisNotificationKeyBuild(id uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", Redis, Notification, id)
}

// RedisTickLockKeyBuild returns the key guarding one scheduler tick across instances.
func RedisTickLockKeyBuild(name string) string {
	if name == "" {
		name = "default"
	}
	return fmt.Sprintf("%s:%s:%s:%s", Redis, Lock, Scheduler, name)
}
