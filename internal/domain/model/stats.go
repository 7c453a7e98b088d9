package model

import "time"

// FileStat — производный счётчик скачиваний файла.
type FileStat struct {
	FileName       string    `json:"fileName"`
	DownloadCount  int64     `json:"downloadCount"`
	LastDownloaded time.Time `json:"lastDownloaded"`
}

// DailyStat — счётчики за календарный день (YYYY-MM-DD).
type DailyStat struct {
	Date      string `json:"date"`
	Downloads int64  `json:"downloads"`
	Visits    int64  `json:"visits"`
}

// UserStat — счётчик входов пользователя.
type UserStat struct {
	Email      string    `json:"email"`
	LoginCount int64     `json:"loginCount"`
	LastLogin  time.Time `json:"lastLogin"`
}

// CountStat — счётчик по ключу (тип устройства, браузер).
type CountStat struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// StatsSummary — ответ административной статистики.
type StatsSummary struct {
	ActivityLogs     []*ActivityEntry `json:"activityLogs"`
	FileStats        []FileStat       `json:"fileStats"`
	DailyStats       []DailyStat      `json:"dailyStats"`
	UserStats        []UserStat       `json:"userStats"`
	DeviceStats      []CountStat      `json:"deviceStats"`
	BrowserStats     []CountStat      `json:"browserStats"`
	TotalUsers       int              `json:"totalUsers"`
	ActiveUsers      int              `json:"activeUsers"`
	MonthlyDownloads int              `json:"monthlyDownloads"`
	GeneratedAt      time.Time        `json:"generatedAt"`
}
