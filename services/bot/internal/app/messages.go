package app

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"kinobot/pkg/domain"
	"kinobot/pkg/gate"
)

type MenuAction string

const (
	MenuSearch    MenuAction = "search"
	MenuStats     MenuAction = "stats"
	MenuRecommend MenuAction = "recommend"
	MenuContact   MenuAction = "contact"
	MenuMain      MenuAction = "main"

	MenuAdd      MenuAction = "add"
	MenuListAll  MenuAction = "list_all"
	MenuChannels MenuAction = "channels"
	MenuRepair   MenuAction = "repair"
	MenuMigrate  MenuAction = "migrate"
	MenuDelete   MenuAction = "delete"
)

const (
	labelSearch    = "🎬 Kino topish"
	labelStats     = "📊 Statistika"
	labelRecommend = "📽 Kino tavsiyasi"
	labelContact   = "📩 Adminga murojaat"
	labelMain      = "🔙 Asosiy menyu"
	labelAdd       = "➕ Kino qo'shish"
	labelListAll   = "📚 Barcha kinolar"
	labelChannels  = "⚙️ Kanallarni boshqarish"
	labelRepair    = "🛠 Repair"
	labelMigrate   = "🔁 Migratsiya"
	labelDelete    = "🗑 Kino o'chirish"
	labelConfirm   = "✅ Tasdiqlash"
)

// ActionCheckSubscription is the callback token of the subscription panel.
const ActionCheckSubscription = "check_sub"

var menuLabels = map[string]MenuAction{
	labelSearch:    MenuSearch,
	labelStats:     MenuStats,
	labelRecommend: MenuRecommend,
	labelContact:   MenuContact,
	labelMain:      MenuMain,
	labelAdd:       MenuAdd,
	labelListAll:   MenuListAll,
	labelChannels:  MenuChannels,
	labelRepair:    MenuRepair,
	labelMigrate:   MenuMigrate,
	labelDelete:    MenuDelete,
}

func (m MenuAction) operatorOnly() bool {
	switch m {
	case MenuAdd, MenuListAll, MenuChannels, MenuRepair, MenuMigrate, MenuDelete:
		return true
	default:
		return false
	}
}

const (
	msgWelcome = "👋 Assalomu alaykum!\n\n" +
		"📽 Kino botga xush kelibsiz. Kod orqali kino toping yoki admin bilan bog'laning."
	msgMainMenu        = "Asosiy menyu."
	msgWhatNext        = "Yana nima qilamiz?"
	msgFallback        = "Iltimos, menyudan biror tugmani tanlang yoki /start ni bosing."
	msgEnterCode       = "Kino kodini kiriting:"
	msgCodeNotFound    = "📥 Bunday kodli kino topilmadi."
	msgNoContent       = "📥 Bu kodda kontent topilmadi."
	msgChoosePartHint  = "Qism raqamini tanlang (masalan: 1-qism) yoki 🔙 Asosiy menyuga qayting."
	msgPartOutOfRange  = "❌ Bunday qism mavjud emas. Tugmalardan tanlang."
	msgStaleContext    = "❌ Qism tanlash konteksti yo'qoldi. Iltimos, '🎬 Kino topish'dan qayta urinib ko'ring."
	msgMissingMedia    = "❌ Ushbu qism uchun video topilmadi."
	msgDeliveryFailed  = "❌ Ushbu qism uchun video yuborib bo'lmadi."
	msgStatsEmpty      = "Hozircha statistikada kino yo'q."
	msgRecommendEmpty  = "Hozircha tavsiya uchun kinolar yo'q."
	msgRateLimited     = "⏳ Juda ko'p so'rov. Birozdan so'ng qayta urinib ko'ring."
	msgInternalError   = "⚠️ Xatolik yuz berdi. Birozdan so'ng qayta urinib ko'ring."
	msgSubscribeFailed = "❗ Obuna tekshiruvida muammo:\n"
	msgSubscribeRetry  = "❌ Hozircha to'liq obuna aniqlanmadi.\n"
	msgSubscribeOK     = "✅ Obuna tasdiqlandi."
	msgSubscribePanel  = "Quyidagi kanallarga obuna bo'ling va \"✅ Tasdiqlash\" tugmasini bosing:"

	msgAddHelp         = "Videoni yuboring, keyin matn yuboring: Kod | Qism nomi | Sharh"
	msgMediaStaged     = "✅ Video qabul qilindi.\nEndi matn yuboring: Kod | Qism nomi | Sharh"
	msgTripleFormat    = "❌ Format noto'g'ri. To'g'ri format: Kod | Qism nomi | Sharh"
	msgNoStagedMedia   = "❗ Avval video yuboring yoki /cancel bilan qayta urinib ko'ring."
	msgPartAdded       = "✅ Qism qo'shildi."
	msgPreviewFailed   = "✅ Qism qo'shildi, lekin preview yuborilmadi (file_id muammosi)."
	msgListEmpty       = "Hozircha kino yo'q."
	msgChannelsUpdated = "✅ Kanallar yangilandi. Foydalanuvchilarga ko'rinishi:"
	msgChannelsCleared = "✅ Kanallar ro'yxati tozalandi. Obuna talab qilinmaydi."
	msgRepairUsage     = "Foydalanish: /repair <KOD> yoki /repair <KOD> <QISM_RAQAMI>\nBuyruqdan so'ng yangi videoni yuboring."
	msgRepairNoCode    = "Bunday kod topilmadi."
	msgRepairLost      = "Kod topilmadi, bekor qilindi."
	msgRepairNoPart    = "❌ Qism topilmadi. Repair bekor qilindi."
	msgRepairDuplicate = "❌ Bu video ushbu kinoning boshqa qismiga biriktirilgan. Repair bekor qilindi."
	msgRepairDone      = "✅ Video yangilandi va saqlandi."
	msgDeleteUsage     = "🗑 O'chirish rejimi.\n\nFormat:\n- Butun kino: /delete <KOD>\n- Faqat qism: /delete <KOD> <QISM_RAQAMI>\n\nMasalan:\n/delete A123\n/delete A123 2"
	msgDeleteFormat    = "❌ Format noto'g'ri. Foydalanish: /delete <KOD> yoki /delete <KOD> <QISM_RAQAMI>"
	msgDeleteNoCode    = "❌ Bunday kod topilmadi."
	msgDeleteNoPart    = "❌ Bunday qism topilmadi."
	msgMigrationDone   = "ℹ️ Migratsiya avval bajarilgan."
	msgBackupDisabled  = "ℹ️ Zaxira saqlash sozlanmagan."
)

func userMenuRows() [][]string {
	return [][]string{{labelSearch}, {labelStats}, {labelRecommend}, {labelContact}}
}

func operatorMenuRows() [][]string {
	rows := userMenuRows()
	return append(rows, []string{labelAdd}, []string{labelListAll}, []string{labelChannels},
		[]string{labelRepair}, []string{labelMigrate}, []string{labelDelete})
}

// partsMenuRows lays out "N-qism" buttons three per row followed by the main menu button.
func partsMenuRows(count int) [][]string {
	var rows [][]string
	var row []string
	for i := 1; i <= count; i++ {
		row = append(row, strconv.Itoa(i)+partSuffix)
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return append(rows, []string{labelMain})
}

func partCaption(part domain.Part) string {
	return fmt.Sprintf("🎬 %s\n\n📝 %s", part.Title, part.Description)
}

func choosePartText(movie domain.Movie) string {
	return fmt.Sprintf("🎬 %s qismlarini tanlang:", movie.DisplayTitle())
}

func contactText(url string) string {
	return "Adminga murojaat: " + url
}

func repairArmedText(code string) string {
	return fmt.Sprintf("✅ Kod %s uchun video qabul qilish rejimi yoqildi. Yangi videoni yuboring.", code)
}

func repairHintText(code string, index int) string {
	return fmt.Sprintf("🛠 Videoni almashtirish: /repair %s %d", code, index+1)
}

func duplicateText(code string) string {
	return fmt.Sprintf("ℹ️ Bu video kod %s uchun allaqachon qo'shilgan.", code)
}

func movieDeletedText(code string) string {
	return fmt.Sprintf("✅ Kod %s uchun butun kino o'chirildi.", code)
}

func partDeletedText(code string, index int, part domain.Part) string {
	return fmt.Sprintf("✅ Kod %s uchun %d-qism o'chirildi.\n🎬 %s", code, index+1, part.Title)
}

func channelsPromptText(current []domain.ChannelRequirement) string {
	var b strings.Builder
	b.WriteString("Kanallar ro'yxatini yuboring (har birini alohida qatorda).\n")
	b.WriteString("Qabul qilinadi: @kanal yoki https://t.me/kanal yoki https://t.me/+invite_link\n\n")
	b.WriteString("Hozirgi ro'yxat:\n")
	if len(current) == 0 {
		b.WriteString("— Mavjud emas —")
		return b.String()
	}
	for i, ch := range current {
		fmt.Fprintf(&b, "%d-kanal: %s\n", i+1, ch.Target)
	}
	return strings.TrimRight(b.String(), "\n")
}

func statsText(movies []domain.MovieSummary) string {
	lines := []string{"📊 Eng ko'p ko'rilgan kinolar:\n"}
	for i, m := range movies {
		lines = append(lines, fmt.Sprintf("%d. %s (Kod: %s) — %d marta", i+1, m.DisplayTitle(), m.Code, m.Views))
	}
	return strings.Join(lines, "\n")
}

func catalogText(movies []domain.MovieSummary) string {
	lines := []string{"📚 Barcha kinolar:\n"}
	for _, m := range movies {
		lines = append(lines, fmt.Sprintf("🎬 %s (Kod: %s) — qismlar: %d", m.DisplayTitle(), m.Code, m.PartCount))
	}
	return strings.Join(lines, "\n")
}

func migrationText(report MigrationReport) string {
	if report.AlreadyDone {
		return msgMigrationDone
	}
	return fmt.Sprintf("✅ Migratsiya bajarildi: %d ta kino, %d ta yangi qism.", report.Movies, report.PartsCreated)
}

func backupText(url string) string {
	return "✅ Zaxira saqlandi:\n" + url
}

// gateDiagnostics renders the reasons a user is blocked.
func gateDiagnostics(header string, res gate.Result) string {
	var b strings.Builder
	b.WriteString(header)
	if len(res.NotSubscribed) > 0 {
		b.WriteString("Obuna bo'lish kerak bo'lgan kanallar:\n")
		for i, f := range res.NotSubscribed {
			fmt.Fprintf(&b, "%d-kanal: %s\n", i+1, f.Channel.Target)
		}
	}
	if len(res.Inaccessible) > 0 {
		b.WriteString("\nKanal bilan muammo:\n")
		for _, f := range res.Inaccessible {
			fmt.Fprintf(&b, "%s — %s\n", f.Channel.Target, inaccessibleText(f.Reason))
		}
	}
	if len(res.InviteOnly) > 0 {
		b.WriteString("\nℹ️ Invite-link kanallar (t.me/+...) qo'shilish so'rovi yuboriladi. " +
			"Tasdiqlash tugmasini bosing va kuting.\n")
	}
	return b.String()
}

func inaccessibleText(reason string) string {
	switch reason {
	case gate.ReasonNotFound:
		return "kanal topilmadi"
	case gate.ReasonForbidden:
		return "bot kanal a'zolarini ko'ra olmaydi (botni admin qiling)"
	case gate.ReasonTimeout:
		return "Telegram javob bermadi"
	case gate.ReasonInvalid:
		return "kanal nomi noto'g'ri"
	default:
		return "tekshirib bo'lmadi"
	}
}

// subscriptionOptions builds the panel: one join link per channel the user
// still needs, invite channels included, then the confirm action.
func subscriptionOptions(channels []domain.ChannelRequirement) []Option {
	options := make([]Option, 0, len(channels)+1)
	for i, ch := range channels {
		options = append(options, Option{Label: fmt.Sprintf("%d-kanal", i+1), URL: ch.URL()})
	}
	return append(options, Option{Label: labelConfirm, Action: ActionCheckSubscription})
}

const maxMessageLen = 3500

// chunkText splits text into pieces of at most limit bytes, preferring line
// boundaries and never cutting inside a UTF-8 sequence.
func chunkText(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			flush()
			cut := limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if cur.Len()+len(line) > limit {
			flush()
		}
		cur.WriteString(line)
	}
	flush()
	return chunks
}
