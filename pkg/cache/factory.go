package cache

// New 根据配置创建缓存实例，未识别的类型回退到本地缓存
func New(config Config) Cache {
	switch config.Type {
	case "redis":
		return NewRedisCache(config.Redis)
	default:
		return NewGoCache(config.Local)
	}
}
