// Package timeutil 提供交易日历相关的工具函数。
// 主要用于回测的日期解析、交易时段窗口计算和交易日遍历。
package timeutil

import (
	"fmt"
	"time"
)

// DateLayout 日期字符串格式（如 2025-11-03）
const DateLayout = "2006-01-02"

// ParseDate 解析日期字符串为 UTC 当日零点
// 参数 s: 日期字符串，格式为 YYYY-MM-DD
// 返回: UTC 时区的当日零点时间和可能的错误
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("解析日期失败 %q: %w", s, err)
	}
	return t, nil
}

// SessionWindow 计算指定日期的交易时段窗口
// 美股常规时段为 14:30-21:00 UTC（东部时间 9:30-16:00，不考虑夏令时切换）。
// 参数 day: 交易日（取其年月日部分）
// 参数 openMin: 开盘时刻（UTC 自午夜起的分钟数）
// 参数 closeMin: 收盘时刻（UTC 自午夜起的分钟数）
// 返回: 时段起止时间（UTC）
func SessionWindow(day time.Time, openMin, closeMin int) (time.Time, time.Time) {
	y, m, d := day.UTC().Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	start := midnight.Add(time.Duration(openMin) * time.Minute)
	end := midnight.Add(time.Duration(closeMin) * time.Minute)
	return start, end
}

// IsBusinessDay 判断指定日期是否为工作日（周一至周五）
// 交易所节假日不在此判断范围内，由当日无行情数据自然跳过。
// 参数 day: 待判断的日期
// 返回: 是否为工作日
func IsBusinessDay(day time.Time) bool {
	switch day.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}

// NextBusinessDay 获取指定日期之后的下一个工作日
// 参数 day: 起始日期
// 返回: 下一个工作日（UTC 零点）
func NextBusinessDay(day time.Time) time.Time {
	y, m, d := day.UTC().Date()
	next := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for {
		next = next.AddDate(0, 0, 1)
		if IsBusinessDay(next) {
			return next
		}
	}
}

// BusinessDays 枚举区间内的所有工作日（含两端）
// 参数 start: 区间起始日期
// 参数 end: 区间结束日期
// 返回: 按时间升序排列的工作日列表（UTC 零点）；start 晚于 end 时返回空列表
func BusinessDays(start, end time.Time) []time.Time {
	sy, sm, sd := start.UTC().Date()
	ey, em, ed := end.UTC().Date()
	cur := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	last := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)

	var days []time.Time
	for !cur.After(last) {
		if IsBusinessDay(cur) {
			days = append(days, cur)
		}
		cur = cur.AddDate(0, 0, 1)
	}
	return days
}
