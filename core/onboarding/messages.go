package onboarding

import "github.com/m3rciful/concierge/core/locale"

type texts struct {
	Welcome       string
	WelcomeButton string
	Greeting      string
	GreetingBtn   string
	Done          string
	Reset         string
	NotRegistered string
}

var catalog = map[string]texts{
	locale.English: {
		Welcome:       "🎬 *Welcome to Latina Beauty Collection*\n\nI'm your personal concierge. Tap the button to watch your welcome video.",
		WelcomeButton: "▶️ Watch Welcome Video",
		Greeting:      "🔊 *Your Personal Greeting*\n\nListen to your personalized welcome message.",
		GreetingBtn:   "🔊 Play Greeting",
		Done:          "✅ *You're All Set!*\n\nYour setup is complete. Type /menu anytime to see your options.",
		Reset:         "🔄 *State Reset*\n\nYour progress has been reset. Send /start to begin again.",
		NotRegistered: "❌ Profile not found. Send /start to begin.",
	},
	locale.Spanish: {
		Welcome:       "🎬 *Bienvenido a Latina Beauty Collection*\n\nSoy tu concierge personal. Toca el botón para ver tu video de bienvenida.",
		WelcomeButton: "▶️ Watch Welcome Video",
		Greeting:      "🔊 *Tu Saludo Personal*\n\nEscucha tu mensaje personalizado de bienvenida.",
		GreetingBtn:   "🔊 Play Greeting",
		Done:          "✅ *¡Todo Listo!*\n\nTu configuración está completa. Escribe /menu en cualquier momento para ver las opciones.",
		Reset:         "🔄 *Estado Reiniciado*\n\nTu progreso ha sido reiniciado. Envía /start para comenzar de nuevo.",
		NotRegistered: "❌ No se encontró tu perfil. Envía /start para comenzar.",
	},
}

func textsFor(lang string) texts {
	return catalog[locale.Normalize(lang)]
}
