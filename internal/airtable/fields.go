package airtable

import "fmt"

// FieldMap — единая таблица соответствия логических полей колонкам базы.
// Разные ревизии базы называли колонки по-разному ("downloadCount" и
// "Download Count"); код работает только с логическими именами.
// Пустое имя колонки означает, что поле в базе отсутствует.
type FieldMap struct {
	File         FileFields
	Activity     ActivityFields
	FileStat     FileStatFields
	DailyStat    DailyStatFields
	UserStat     UserStatFields
	DeviceStat   CountFields
	BrowserStat  CountFields
	AdminUser    AdminUserFields
	User         UserFields
	Announcement AnnouncementFields
}

// FileFields — колонки таблицы файлов.
type FileFields struct {
	Name, Title, Sector, Category, Date, Attachment string
}

// ActivityFields — колонки журнала активности.
type ActivityFields struct {
	EventID, UserID, UserEmail, Action, Details, Timestamp, DeviceInfo, BrowserInfo string
}

// FileStatFields — колонки статистики файлов.
type FileStatFields struct {
	FileName, DownloadCount, LastDownloaded string
}

// DailyStatFields — колонки дневной статистики.
type DailyStatFields struct {
	Date, Downloads, Visits string
}

// UserStatFields — колонки статистики пользователей.
type UserStatFields struct {
	Email, LoginCount, LastLogin string
}

// CountFields — колонки простого счётчика (устройства, браузеры).
type CountFields struct {
	Key, Count string
}

// AdminUserFields — колонки таблицы администраторов.
type AdminUserFields struct {
	Email string
}

// UserFields — колонки таблицы пользователей.
type UserFields struct {
	Email, Status string
}

// AnnouncementFields — колонки таблицы объявлений.
type AnnouncementFields struct {
	Title, Content, StartDate, EndDate, IsActive, IsImportant, CreatedAt string
}

// StandardFields — схема с camelCase-колонками.
func StandardFields() FieldMap {
	return FieldMap{
		File: FileFields{
			Name: "name", Title: "title", Sector: "sector", Category: "category",
			Date: "date", Attachment: "attachment",
		},
		Activity: ActivityFields{
			UserID: "userId", UserEmail: "userEmail", Action: "action", Details: "details",
			Timestamp: "timestamp", DeviceInfo: "deviceInfo", BrowserInfo: "browserInfo",
		},
		FileStat:    FileStatFields{FileName: "fileName", DownloadCount: "downloadCount", LastDownloaded: "lastDownloaded"},
		DailyStat:   DailyStatFields{Date: "date", Downloads: "downloads", Visits: "visits"},
		UserStat:    UserStatFields{Email: "email", LoginCount: "loginCount", LastLogin: "lastLogin"},
		DeviceStat:  CountFields{Key: "deviceType", Count: "count"},
		BrowserStat: CountFields{Key: "browser", Count: "count"},
		AdminUser:   AdminUserFields{Email: "email"},
		User:        UserFields{Email: "email", Status: "status"},
		Announcement: AnnouncementFields{
			Title: "title", Content: "content", StartDate: "startDate", EndDate: "endDate",
			IsActive: "isActive", IsImportant: "isImportant", CreatedAt: "createdAt",
		},
	}
}

// LegacyFields — схема с колонками "Title Case" из ранних ревизий базы.
func LegacyFields() FieldMap {
	return FieldMap{
		File: FileFields{
			Name: "Name", Title: "Title", Sector: "Sector", Category: "Category",
			Date: "Date", Attachment: "Attachment",
		},
		Activity: ActivityFields{
			EventID: "Event ID", UserID: "User ID", UserEmail: "User Email", Action: "Action",
			Details: "Details", Timestamp: "Timestamp", DeviceInfo: "Device Info", BrowserInfo: "Browser Info",
		},
		FileStat:    FileStatFields{FileName: "File Name", DownloadCount: "Download Count", LastDownloaded: "Last Downloaded"},
		DailyStat:   DailyStatFields{Date: "Date", Downloads: "Downloads", Visits: "Visits"},
		UserStat:    UserStatFields{Email: "Email", LoginCount: "Logins", LastLogin: "Last Login"},
		DeviceStat:  CountFields{Key: "Device Type", Count: "Count"},
		BrowserStat: CountFields{Key: "Browser", Count: "Count"},
		AdminUser:   AdminUserFields{Email: "Email"},
		User:        UserFields{Email: "Email", Status: "Status"},
		Announcement: AnnouncementFields{
			Title: "Title", Content: "Content", StartDate: "Start Date", EndDate: "End Date",
			IsActive: "Is Active", IsImportant: "Is Important", CreatedAt: "Created At",
		},
	}
}

// FieldsForSchema возвращает схему по имени (standard, legacy).
func FieldsForSchema(name string) (FieldMap, error) {
	switch name {
	case "", "standard":
		return StandardFields(), nil
	case "legacy":
		return LegacyFields(), nil
	}
	return FieldMap{}, fmt.Errorf("неизвестная схема полей %q", name)
}
