package util

// IntPtr 返回 v 的指针，0 也是有效分数
func IntPtr(v int) *int {
	return &v
}

func StringPtr(v string) *string {
	return &v
}
